// Package distance computes pairwise relations between point subsets of one
// field. Two strategies exist: Dense materialises the full distance matrix,
// Indexed answers queries from a spatial index. Both compare the same
// floating point distances and produce identical results.
package distance

import (
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/spatial"
)

// Strategy names a distance computation strategy.
type Strategy string

const (
	StrategyAuto    Strategy = "auto"
	StrategyDense   Strategy = "dense"
	StrategyIndexed Strategy = "indexed"
)

// DefaultDenseMaxPoints is the field size above which auto selects the
// indexed strategy.
const DefaultDenseMaxPoints = 2000

// denseWarnFactor times DenseMaxPoints is the field size above which an
// explicit dense request is logged.
const denseWarnFactor = 4

// DenseMatrixBytes is the size of the symmetric distance matrix Dense holds
// for n points.
func DenseMatrixBytes(n int) int {
	return 8 * n * n
}

// ParseStrategy accepts "auto", "dense" or "indexed" (case-insensitive). An
// empty string means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyDense:
		return StrategyDense, nil
	case StrategyIndexed:
		return StrategyIndexed, nil
	}
	return "", errs.Validation("strategy", "unknown distance strategy %q", s)
}

// Match is the nearest neighbour found for one from-point.
type Match struct {
	Pos   int // position of the neighbour in the PointSet
	ID    int64
	Dist  float64
	Found bool
}

// Provider answers the two relation queries the engine needs. Masks hold
// PointSet positions; results are ordered by ascending from-position.
type Provider interface {
	Strategy() Strategy
	// CountWithin returns, per radius and per from-point, how many to-points
	// lie at distance d with 0 < d <= radius.
	CountWithin(from, to *roaring.Bitmap, radii []float64) [][]int
	// Nearest returns, per from-point, the closest to-point that is not the
	// point itself. Ties go to the lowest ID.
	Nearest(from, to *roaring.Bitmap) []Match
	// Notice reports a non-fatal condition met while choosing the strategy,
	// such as a dense fallback. Nil when there was none.
	Notice() error
}

// Options selects and tunes the strategy.
type Options struct {
	Strategy Strategy
	// CellSize is recorded for reporting; the Index builder carries its own.
	CellSize float64
	// DenseMaxPoints bounds the field size for which auto picks dense.
	DenseMaxPoints int
	// Index builds the spatial index. Nil means no index is available.
	Index  spatial.Builder
	Logger logging.Logger
}

// DefaultOptions returns auto selection over a grid index.
func DefaultOptions() Options {
	return Options{
		Strategy:       StrategyAuto,
		CellSize:       spatial.DefaultCellSize,
		DenseMaxPoints: DefaultDenseMaxPoints,
		Index:          spatial.GridBuilder(spatial.DefaultCellSize),
	}
}

// New returns the Provider chosen by opts for ps.
func New(ps *cells.PointSet, opts Options) (Provider, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	if opts.DenseMaxPoints <= 0 {
		opts.DenseMaxPoints = DefaultDenseMaxPoints
	}
	logger := logging.OrNop(opts.Logger)

	switch strategy {
	case StrategyIndexed:
		if opts.Index == nil {
			notice := &errs.MissingDependencyError{Dependency: "spatial index", Fallback: string(StrategyDense)}
			logger.Warn("indexed strategy requested without a spatial index",
				logging.String("field", ps.FieldID()), logging.Err(notice))
			d := NewDense(ps)
			d.notice = notice
			return d, nil
		}
		return NewIndexed(ps, opts.Index), nil
	case StrategyDense:
		if n := ps.Len(); n > denseWarnFactor*opts.DenseMaxPoints {
			logger.Warn("dense strategy on a large field",
				logging.String("field", ps.FieldID()),
				logging.Int("points", n),
				logging.Int("matrix_bytes", DenseMatrixBytes(n)))
		}
		return NewDense(ps), nil
	}

	if opts.Index != nil && ps.Len() > opts.DenseMaxPoints {
		logger.Debug("auto selected indexed strategy",
			logging.String("field", ps.FieldID()), logging.Int("points", ps.Len()))
		return NewIndexed(ps, opts.Index), nil
	}
	return NewDense(ps), nil
}

func countsFor(radii []float64, m int) [][]int {
	out := make([][]int, len(radii))
	for i := range out {
		out[i] = make([]int, m)
	}
	return out
}

func maxRadius(radii []float64) float64 {
	r := 0.0
	for _, v := range radii {
		r = max(r, v)
	}
	return r
}
