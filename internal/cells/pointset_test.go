package cells

import (
	"math"
	"reflect"
	"testing"

	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

func samplePoints() []Point {
	return []Point{
		{ID: 1, X: 0, Y: 0, Phenotype: "CD8+", Category: "Tumor", Field: "f1"},
		{ID: 2, X: 10, Y: 0, Phenotype: "CK+", Category: "Tumor", Field: "f1"},
		{ID: 3, X: 3, Y: 4, Phenotype: "CD8+", Category: "Stroma", Field: "f1"},
		{ID: 4, X: 7, Y: 7, Phenotype: "", Category: "", Field: "f1"},
	}
}

func TestNewDropsNonFiniteCoordinates(t *testing.T) {
	pts := append(samplePoints(), Point{ID: 5, X: math.NaN(), Y: 1, Field: "f1"})
	ps := New(pts)
	if ps.Len() != 4 {
		t.Fatalf("expected 4 points, got %d", ps.Len())
	}
	w := ps.Warnings()
	if len(w) != 1 || w[0].Count != 1 || w[0].Field != "f1" {
		t.Fatalf("unexpected warnings %#v", w)
	}
}

func TestValidateSingleField(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		if err := New(samplePoints()).ValidateSingleField("test"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("mixedFields", func(t *testing.T) {
		pts := append(samplePoints(), Point{ID: 9, Field: "f2"})
		err := New(pts).ValidateSingleField("test")
		if !errs.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("duplicateID", func(t *testing.T) {
		pts := append(samplePoints(), Point{ID: 1, Field: "f1"})
		err := New(pts).ValidateSingleField("test")
		if !errs.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestMask(t *testing.T) {
	ps := New(samplePoints())
	cd8 := PhenotypePredicate("CD8+")

	t.Run("allCategories", func(t *testing.T) {
		got := ps.Mask(cd8, AllCategories).ToArray()
		if !reflect.DeepEqual(got, []uint32{0, 2}) {
			t.Fatalf("unexpected mask %v", got)
		}
	})

	t.Run("category", func(t *testing.T) {
		got := ps.Mask(cd8, "Tumor").ToArray()
		if !reflect.DeepEqual(got, []uint32{0}) {
			t.Fatalf("unexpected mask %v", got)
		}
	})

	t.Run("unknownCategory", func(t *testing.T) {
		if !ps.Mask(cd8, "Necrosis").IsEmpty() {
			t.Fatalf("expected empty mask")
		}
	})

	t.Run("unknownPhenotype", func(t *testing.T) {
		if !ps.Mask(PhenotypePredicate("CD20+"), AllCategories).IsEmpty() {
			t.Fatalf("expected empty mask")
		}
	})
}

func TestDistinctLabels(t *testing.T) {
	ps := New(samplePoints())
	if got := ps.Phenotypes(); !reflect.DeepEqual(got, []string{"CD8+", "CK+"}) {
		t.Fatalf("unexpected phenotypes %v", got)
	}
	if got := ps.Categories(); !reflect.DeepEqual(got, []string{"Stroma", "Tumor"}) {
		t.Fatalf("unexpected categories %v", got)
	}
}
