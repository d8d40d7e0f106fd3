package service

import (
	"math"
	"time"

	"github.com/RoaringBitmap/roaring"
	"gonum.org/v1/gonum/stat"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/distance"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

// Combination is one resolved from/to selection within a tissue category.
// Category cells.AllCategories means no category restriction.
type Combination struct {
	From     cells.Predicate
	To       cells.Predicate
	Category string
}

// CountRow is the radius-count result for one field, combination and radius.
// WithinMean is nil when either subset is empty.
type CountRow struct {
	Field      string   `json:"field,omitempty"`
	Slide      string   `json:"slide,omitempty"`
	Category   string   `json:"category"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Radius     float64  `json:"radius"`
	FromCount  int      `json:"from_count"`
	ToCount    int      `json:"to_count"`
	FromWith   int      `json:"from_with"`
	WithinMean *float64 `json:"within_mean"`
}

// ValidateRadii requires at least one radius, each finite and > 0.
func ValidateRadii(op string, radii []float64) error {
	if len(radii) == 0 {
		return errs.Validation(op, "at least one radius is required")
	}
	for _, r := range radii {
		if !(r > 0) || math.IsInf(r, 0) {
			return errs.Validation(op, "radius must be a positive finite number, got %v", r)
		}
	}
	return nil
}

// CountWithin counts, for each radius, how many from-points have to-points
// within that radius. One row is returned per radius, in the given order.
func CountWithin(ps *cells.PointSet, combo Combination, radii []float64, opts Options) ([]CountRow, error) {
	const op = "count_within"
	start := time.Now()
	warnAll(opts.logger(), ps.Warnings())
	if err := ps.ValidateSingleField(op); err != nil {
		return nil, err
	}
	if err := ValidateRadii(op, radii); err != nil {
		return nil, err
	}

	prov, err := opts.provider(ps)
	if err != nil {
		return nil, err
	}
	from := ps.Mask(combo.From, combo.Category)
	to := ps.Mask(combo.To, combo.Category)
	rows := countRows(prov, combo, from, to, radii)
	tagRows(rows, ps)

	opts.Metrics.FieldDone(string(prov.Strategy()), time.Since(start), nil)
	opts.Metrics.Rows("count", len(rows))
	return rows, nil
}

func countRows(prov distance.Provider, combo Combination, from, to *roaring.Bitmap, radii []float64) []CountRow {
	fromCount := int(from.GetCardinality())
	toCount := int(to.GetCardinality())

	var counts [][]int
	if fromCount > 0 && toCount > 0 {
		counts = prov.CountWithin(from, to, radii)
	}

	rows := make([]CountRow, len(radii))
	for k, r := range radii {
		row := CountRow{
			Category:  combo.Category,
			From:      combo.From.Label,
			To:        combo.To.Label,
			Radius:    r,
			FromCount: fromCount,
			ToCount:   toCount,
		}
		if counts != nil {
			per := make([]float64, fromCount)
			for i, c := range counts[k] {
				per[i] = float64(c)
				if c > 0 {
					row.FromWith++
				}
			}
			mean := stat.Mean(per, nil)
			row.WithinMean = &mean
		}
		rows[k] = row
	}
	return rows
}

func tagRows(rows []CountRow, ps *cells.PointSet) {
	field, slide := ps.FieldID(), ps.SlideID()
	for i := range rows {
		rows[i].Field = field
		rows[i].Slide = slide
	}
}
