package distance

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/spatial"
)

// Indexed answers queries from a spatial index built once over every point
// of the field. Radius queries are restricted to the to-mask at lookup time;
// nearest queries search the targets only.
type Indexed struct {
	ps    *cells.PointSet
	locs  []spatial.Location
	index spatial.Index
}

// NewIndexed builds the index eagerly so no query observes a partial index.
func NewIndexed(ps *cells.PointSet, build spatial.Builder) *Indexed {
	locs := make([]spatial.Location, ps.Len())
	for i, p := range ps.Points() {
		locs[i] = spatial.Location{X: p.X, Y: p.Y, ID: p.ID}
	}
	return &Indexed{ps: ps, locs: locs, index: build(locs)}
}

// Strategy implements Provider.
func (x *Indexed) Strategy() Strategy { return StrategyIndexed }

// Notice implements Provider.
func (x *Indexed) Notice() error { return nil }

// CountWithin implements Provider. Each from-point is queried once at the
// largest radius and the hits are binned per radius.
func (x *Indexed) CountWithin(from, to *roaring.Bitmap, radii []float64) [][]int {
	rows := positions(from)
	counts := countsFor(radii, len(rows))
	if len(rows) == 0 || len(radii) == 0 || to == nil || to.IsEmpty() {
		return counts
	}
	reach := maxRadius(radii)
	for i, pos := range rows {
		l := x.locs[pos]
		for _, h := range x.index.Within(l.X, l.Y, reach, to) {
			if h.Dist <= 0 {
				continue
			}
			for k, r := range radii {
				if h.Dist <= r {
					counts[k][i]++
				}
			}
		}
	}
	return counts
}

// directScanMax is the target count up to which Nearest compares against
// every target instead of building a target grid.
const directScanMax = 64

// targetsPerCell sizes the target grid built by Nearest.
const targetsPerCell = 2.0

// Nearest implements Provider. The field index holds every point, so a rare
// target would leave most visited cells without candidates. Instead, small
// target sets are scanned directly and larger ones get a grid of their own,
// sized to the target density.
func (x *Indexed) Nearest(from, to *roaring.Bitmap) []Match {
	rows := positions(from)
	out := make([]Match, len(rows))
	if to == nil || to.IsEmpty() {
		return out
	}

	targets := positions(to)
	locs := make([]spatial.Location, len(targets))
	for j, pos := range targets {
		locs[j] = x.locs[pos]
	}

	if len(targets) <= directScanMax {
		for i, pos := range rows {
			if j, d, ok := scanNearest(x.locs[pos], locs); ok {
				out[i] = Match{Pos: targets[j], ID: locs[j].ID, Dist: d, Found: true}
			}
		}
		return out
	}

	grid := spatial.NewGrid(spatial.CellSizeFor(locs, targetsPerCell), locs)
	for i, pos := range rows {
		h, ok := grid.Nearest(x.locs[pos], nil)
		if !ok {
			continue
		}
		out[i] = Match{Pos: targets[h.Pos], ID: locs[h.Pos].ID, Dist: h.Dist, Found: true}
	}
	return out
}

// scanNearest returns the index into locs of the closest location other than
// q itself. Ties go to the lowest ID.
func scanNearest(q spatial.Location, locs []spatial.Location) (int, float64, bool) {
	best, bestDist := -1, 0.0
	for j, l := range locs {
		if l.ID == q.ID {
			continue
		}
		d := spatial.Distance(q.X, q.Y, l.X, l.Y)
		if best < 0 || d < bestDist || (d == bestDist && l.ID < locs[best].ID) {
			best, bestDist = j, d
		}
	}
	return best, bestDist, best >= 0
}
