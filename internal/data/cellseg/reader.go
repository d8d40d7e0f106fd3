// Package cellseg reads per-field cell segmentation tables (tab-separated
// "cell_seg_data" exports) into point sets.
package cellseg

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

// Column names of the segmentation export.
const (
	ColSampleName = "Sample Name"
	ColSlideID    = "Slide ID"
	ColCellID     = "Cell ID"
	ColCellX      = "Cell X Position"
	ColCellY      = "Cell Y Position"
	ColPhenotype  = "Phenotype"
	ColTissueCat  = "Tissue Category"
)

const (
	fileSuffix   = "cell_seg_data.txt"
	mergedMarker = "merge_cell_seg_data"
)

// DefaultPixelsPerMicron converts pixel positions when the export does not
// report microns.
const DefaultPixelsPerMicron = 2.0

// Options controls parsing.
type Options struct {
	PixelsPerMicron float64
}

// DefaultOptions returns the default parse options.
func DefaultOptions() Options {
	return Options{PixelsPerMicron: DefaultPixelsPerMicron}
}

// ListFieldFiles returns the per-field segmentation files in dir, sorted by
// name. Merged exports are skipped since they hold several fields.
func ListFieldFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(strings.ToLower(name), mergedMarker) {
			continue
		}
		if strings.HasSuffix(trimCompression(name), fileSuffix) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func trimCompression(name string) string {
	for _, ext := range []string{".gz", ".zst"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// FieldNameFromPath derives a field identifier from a file name, e.g.
// "Set4_1-6plex_[16142,55840]_cell_seg_data.txt" -> "Set4_1-6plex_[16142,55840]".
func FieldNameFromPath(path string) string {
	name := trimCompression(filepath.Base(path))
	name = strings.TrimSuffix(name, fileSuffix)
	name = strings.TrimRight(name, "_")
	if name == "" {
		return filepath.Base(path)
	}
	return name
}

// Loader returns a function reading files with opts, for batch use.
func Loader(opts Options) func(path string) (*cells.PointSet, error) {
	return func(path string) (*cells.PointSet, error) {
		return ReadFile(path, opts)
	}
}

// ReadFile reads one segmentation file. Files ending in .gz or .zst are
// decompressed.
func ReadFile(path string, opts Options) (*cells.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	ps, err := Read(r, path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ps, nil
}

type layout struct {
	sample, slide, id, x, y, phenotype, category int
	xScale, yScale                               float64
}

func findColumns(header []string, opts Options) (layout, error) {
	l := layout{sample: -1, slide: -1, id: -1, x: -1, y: -1, phenotype: -1, category: -1, xScale: 1, yScale: 1}
	ppm := opts.PixelsPerMicron
	if ppm <= 0 {
		ppm = DefaultPixelsPerMicron
	}
	for i, raw := range header {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		switch {
		case name == ColSampleName:
			l.sample = i
		case name == ColSlideID:
			l.slide = i
		case name == ColCellID:
			l.id = i
		case name == ColPhenotype:
			l.phenotype = i
		case name == ColTissueCat:
			l.category = i
		case strings.HasPrefix(name, ColCellX):
			l.x = i
			if strings.Contains(name, "(pixels)") {
				l.xScale = 1 / ppm
			}
		case strings.HasPrefix(name, ColCellY):
			l.y = i
			if strings.Contains(name, "(pixels)") {
				l.yScale = 1 / ppm
			}
		}
	}

	var missing []string
	for col, idx := range map[string]int{ColCellID: l.id, ColCellX: l.x, ColCellY: l.y, ColPhenotype: l.phenotype} {
		if idx < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return l, errs.Validation("read", "missing required columns %v", missing)
	}
	return l, nil
}

func isMissing(s string) bool {
	switch s {
	case "", "NA", "#N/A", "N/A":
		return true
	}
	return false
}

// Read parses a segmentation table from r. source names the input in
// warnings and supplies the field identifier when the table has none.
func Read(r io.Reader, source string, opts Options) (*cells.PointSet, error) {
	tr := csv.NewReader(r)
	tr.Comma = '\t'
	tr.LazyQuotes = true
	tr.FieldsPerRecord = -1
	tr.ReuseRecord = true

	header, err := tr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.Validation("read", "empty table")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header = append([]string(nil), header...)
	l, err := findColumns(header, opts)
	if err != nil {
		return nil, err
	}

	fallbackField := ""
	if source != "" {
		fallbackField = FieldNameFromPath(source)
	}
	col := func(rec []string, idx int) string {
		if idx < 0 || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	var (
		points                               []cells.Point
		badCoords, badIDs, noPheno, shortRow int
	)
	for {
		rec, err := tr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if len(rec) < len(header) {
			shortRow++
		}

		id, err := strconv.ParseInt(col(rec, l.id), 10, 64)
		if err != nil {
			badIDs++
			continue
		}
		xs, ys := col(rec, l.x), col(rec, l.y)
		if isMissing(xs) || isMissing(ys) {
			badCoords++
			continue
		}
		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		if errX != nil || errY != nil {
			badCoords++
			continue
		}

		p := cells.Point{
			ID:        id,
			X:         x * l.xScale,
			Y:         y * l.yScale,
			Phenotype: col(rec, l.phenotype),
			Category:  col(rec, l.category),
			Field:     col(rec, l.sample),
			Slide:     col(rec, l.slide),
		}
		if isMissing(p.Phenotype) {
			p.Phenotype = ""
			noPheno++
		}
		if isMissing(p.Category) {
			p.Category = ""
		}
		if p.Field == "" {
			p.Field = fallbackField
		}
		points = append(points, p)
	}

	ps := cells.New(points)
	warn := func(n int, msg string) {
		if n > 0 {
			ps.WithWarnings(errs.DataIntegrityWarning{Field: ps.FieldID(), Source: source, Message: msg, Count: n})
		}
	}
	warn(badIDs, "rows with unparsable cell id dropped")
	warn(badCoords, "rows with missing or unparsable coordinates dropped")
	warn(noPheno, "rows with missing phenotype")
	warn(shortRow, "rows with fewer columns than the header")
	return ps, nil
}
