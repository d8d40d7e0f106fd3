// Package cells holds the labeled point model for one imaged field and the
// phenotype/category selection rules applied to it.
package cells

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

// Point is a single segmented cell.
type Point struct {
	ID        int64   `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Phenotype string  `json:"phenotype"`
	// Category is the tissue category; empty means missing.
	Category string `json:"category,omitempty"`
	// Field is the sample/field identifier the point was read from.
	Field string `json:"field,omitempty"`
	// Slide is the higher-level grouping identifier, if known.
	Slide string `json:"slide,omitempty"`
}

// PointSet is an ordered, read-only collection of points. Point positions
// (0..Len-1) are the bit positions used by selection masks.
type PointSet struct {
	points   []Point
	warnings []errs.DataIntegrityWarning
}

// New builds a PointSet. Points with non-finite coordinates are dropped and
// reported through Warnings.
func New(points []Point) *PointSet {
	ps := &PointSet{points: make([]Point, 0, len(points))}
	dropped := 0
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			dropped++
			continue
		}
		ps.points = append(ps.points, p)
	}
	if dropped > 0 {
		ps.warnings = append(ps.warnings, errs.DataIntegrityWarning{
			Field:   ps.FieldID(),
			Message: "points with missing or non-finite coordinates dropped",
			Count:   dropped,
		})
	}
	return ps
}

// WithWarnings attaches warnings produced while loading the points.
func (ps *PointSet) WithWarnings(w ...errs.DataIntegrityWarning) *PointSet {
	ps.warnings = append(ps.warnings, w...)
	return ps
}

// Warnings returns data integrity diagnostics collected for this set.
func (ps *PointSet) Warnings() []errs.DataIntegrityWarning {
	return ps.warnings
}

// Len returns the number of points.
func (ps *PointSet) Len() int { return len(ps.points) }

// At returns the point at position i.
func (ps *PointSet) At(i int) Point { return ps.points[i] }

// Points returns the underlying points. Callers must not modify the slice.
func (ps *PointSet) Points() []Point { return ps.points }

// FieldID returns the first non-empty field identifier.
func (ps *PointSet) FieldID() string {
	for _, p := range ps.points {
		if p.Field != "" {
			return p.Field
		}
	}
	return ""
}

// SlideID returns the first non-empty slide identifier.
func (ps *PointSet) SlideID() string {
	for _, p := range ps.points {
		if p.Slide != "" {
			return p.Slide
		}
	}
	return ""
}

// ValidateSingleField rejects sets that mix several fields (for example a
// merged file) or that repeat a point ID.
func (ps *PointSet) ValidateSingleField(op string) error {
	fields := make(map[string]struct{})
	for _, p := range ps.points {
		if p.Field != "" {
			fields[p.Field] = struct{}{}
		}
	}
	if len(fields) > 1 {
		names := make([]string, 0, len(fields))
		for f := range fields {
			names = append(names, f)
		}
		sort.Strings(names)
		return errs.Validation(op, "point set contains %d fields %v; use one field per query", len(names), names)
	}

	seen := make(map[int64]struct{}, len(ps.points))
	for _, p := range ps.points {
		if _, dup := seen[p.ID]; dup {
			return errs.Validation(op, "duplicate point id %d", p.ID).InField(ps.FieldID())
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Phenotypes returns the sorted distinct non-empty phenotypes.
func (ps *PointSet) Phenotypes() []string {
	return ps.distinct(func(p Point) string { return p.Phenotype })
}

// Categories returns the sorted distinct non-empty tissue categories.
func (ps *PointSet) Categories() []string {
	return ps.distinct(func(p Point) string { return p.Category })
}

func (ps *PointSet) distinct(key func(Point) string) []string {
	set := make(map[string]struct{})
	for _, p := range ps.points {
		if k := key(p); k != "" {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CategoryMask returns the positions of points in category. AllCategories
// selects every point; an unknown category selects none.
func (ps *PointSet) CategoryMask(category string) *roaring.Bitmap {
	bm := roaring.New()
	if category == AllCategories {
		bm.AddRange(0, uint64(len(ps.points)))
		return bm
	}
	for i, p := range ps.points {
		if p.Category == category {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// Mask returns the positions of points in category whose phenotype matches
// pred. The category restriction is applied before the phenotype selection.
func (ps *PointSet) Mask(pred Predicate, category string) *roaring.Bitmap {
	return ps.MaskWithin(pred, ps.CategoryMask(category))
}

// MaskWithin selects matching points among the positions in scope.
func (ps *PointSet) MaskWithin(pred Predicate, scope *roaring.Bitmap) *roaring.Bitmap {
	bm := roaring.New()
	it := scope.Iterator()
	for it.HasNext() {
		i := it.Next()
		if pred.Match(ps.points[i].Phenotype) {
			bm.Add(i)
		}
	}
	return bm
}
