package cellseg

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

const sampleTable = "Sample Name\tSlide ID\tCell ID\tCell X Position (pixels)\tCell Y Position (pixels)\tPhenotype\tTissue Category\n" +
	"field_a.im3\tslide1\t1\t10\t20\tCD8+\tTumor\n" +
	"field_a.im3\tslide1\t2\t30\t40\tCK+\tStroma\n" +
	"field_a.im3\tslide1\t3\t#N/A\t40\tCK+\tStroma\n" +
	"field_a.im3\tslide1\tx\t1\t1\tCK+\tStroma\n" +
	"field_a.im3\tslide1\t5\t50\t60\t\tTumor\n"

func TestReadConvertsPixels(t *testing.T) {
	ps, err := Read(strings.NewReader(sampleTable), "mem", DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", ps.Len())
	}
	p := ps.At(0)
	if p.ID != 1 || p.X != 5 || p.Y != 10 || p.Phenotype != "CD8+" || p.Category != "Tumor" {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.Field != "field_a.im3" || p.Slide != "slide1" {
		t.Fatalf("unexpected identifiers %+v", p)
	}

	counts := map[string]int{}
	for _, w := range ps.Warnings() {
		counts[w.Message] = w.Count
	}
	want := map[string]int{
		"rows with unparsable cell id dropped":                1,
		"rows with missing or unparsable coordinates dropped": 1,
		"rows with missing phenotype":                         1,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("unexpected warnings %v", counts)
	}
}

func TestReadMicronsAndFallbackField(t *testing.T) {
	table := "Cell ID\tCell X Position\tCell Y Position\tPhenotype\n1\t10.5\t3\tCD8+\n"
	ps, err := Read(strings.NewReader(table), "/data/Set4_[1,2]_cell_seg_data.txt", Options{PixelsPerMicron: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := ps.At(0)
	if p.X != 10.5 || p.Y != 3 {
		t.Fatalf("micron positions must not be scaled: %+v", p)
	}
	if p.Field != "Set4_[1,2]" {
		t.Fatalf("unexpected field %q", p.Field)
	}
}

func TestReadMissingColumns(t *testing.T) {
	_, err := Read(strings.NewReader("Cell ID\tPhenotype\n1\tCD8+\n"), "mem", DefaultOptions())
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = Read(strings.NewReader(""), "mem", DefaultOptions())
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func writeFile(t *testing.T, path string, compress func(f *os.File) error) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := compress(f); err != nil {
		t.Fatal(err)
	}
}

func TestReadFileCompressed(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "a_cell_seg_data.txt")
	writeFile(t, plain, func(f *os.File) error {
		_, err := f.WriteString(sampleTable)
		return err
	})

	gzPath := filepath.Join(dir, "b_cell_seg_data.txt.gz")
	writeFile(t, gzPath, func(f *os.File) error {
		w := gzip.NewWriter(f)
		if _, err := w.Write([]byte(sampleTable)); err != nil {
			return err
		}
		return w.Close()
	})

	zstPath := filepath.Join(dir, "c_cell_seg_data.txt.zst")
	writeFile(t, zstPath, func(f *os.File) error {
		w, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(sampleTable)); err != nil {
			return err
		}
		return w.Close()
	})

	for _, path := range []string{plain, gzPath, zstPath} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			ps, err := ReadFile(path, DefaultOptions())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ps.Len() != 3 {
				t.Fatalf("expected 3 points, got %d", ps.Len())
			}
			for _, w := range ps.Warnings() {
				if w.Source != path {
					t.Fatalf("warning not tagged with source: %+v", w)
				}
			}
		})
	}

	if _, err := ReadFile(filepath.Join(dir, "missing_cell_seg_data.txt"), DefaultOptions()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestListFieldFiles(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"Set2_cell_seg_data.txt",
		"Set1_cell_seg_data.txt.gz",
		"Merge_cell_seg_data.txt",
		"Set1_merge_cell_seg_data.txt",
		"Set1_cell_seg_data_summary.txt",
		"notes.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub_cell_seg_data.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListFieldFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "Set1_cell_seg_data.txt.gz"),
		filepath.Join(dir, "Set2_cell_seg_data.txt"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
