// Package spatial provides the spatial index used by the indexed distance
// strategy: a regular grid over the points of one field.
package spatial

import (
	"math"

	"github.com/RoaringBitmap/roaring"
)

// DefaultCellSize is the grid cell edge, in microns, when none is configured.
const DefaultCellSize = 50.0

// Location is an indexed point: its position in the field and its ID.
type Location struct {
	X, Y float64
	ID   int64
}

// Hit is a query result: a point position and its distance to the query.
type Hit struct {
	Pos  int
	Dist float64
}

// Index answers radius and nearest-neighbour queries over a fixed set of
// locations. A nil subset means every location is eligible.
type Index interface {
	// Within returns every eligible location at distance <= radius from (x, y).
	Within(x, y, radius float64, subset *roaring.Bitmap) []Hit
	// Nearest returns the closest eligible location other than q itself
	// (matched by ID). Ties go to the lowest ID.
	Nearest(q Location, subset *roaring.Bitmap) (Hit, bool)
}

// Builder constructs an Index over locs. Positions in query results index
// into locs.
type Builder func(locs []Location) Index

// Distance is the Euclidean distance used by every strategy, so that all of
// them compare identical floating point values.
func Distance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}

// Grid is a regular-grid spatial index. Cell size should be close to the
// typical query radius.
type Grid struct {
	cellSize float64
	locs     []Location
	cells    map[int64][]int // cell key -> positions

	minCX, maxCX int64
	minCY, maxCY int64
}

// GridBuilder returns a Builder producing grids with the given cell size.
func GridBuilder(cellSize float64) Builder {
	return func(locs []Location) Index {
		return NewGrid(cellSize, locs)
	}
}

// NewGrid indexes locs on a grid of cellSize.
func NewGrid(cellSize float64, locs []Location) *Grid {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	g := &Grid{
		cellSize: cellSize,
		locs:     locs,
		cells:    make(map[int64][]int, len(locs)/4+1),
	}
	for i, l := range locs {
		cx, cy := g.cellOf(l.X, l.Y)
		if i == 0 {
			g.minCX, g.maxCX, g.minCY, g.maxCY = cx, cx, cy, cy
		} else {
			g.minCX = min(g.minCX, cx)
			g.maxCX = max(g.maxCX, cx)
			g.minCY = min(g.minCY, cy)
			g.maxCY = max(g.maxCY, cy)
		}
		key := cellKey(cx, cy)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

// Len returns the number of indexed locations.
func (g *Grid) Len() int { return len(g.locs) }

func (g *Grid) cellOf(x, y float64) (int64, int64) {
	return int64(math.Floor(x / g.cellSize)), int64(math.Floor(y / g.cellSize))
}

// cellKey combines signed cell coordinates into one map key: zigzag to
// non-negative, then Szudzik's pairing function.
func cellKey(cx, cy int64) int64 {
	var a, b int64
	if cx >= 0 {
		a = 2 * cx
	} else {
		a = -2*cx - 1
	}
	if cy >= 0 {
		b = 2 * cy
	} else {
		b = -2*cy - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// Within implements Index.
func (g *Grid) Within(x, y, radius float64, subset *roaring.Bitmap) []Hit {
	if len(g.locs) == 0 || radius < 0 {
		return nil
	}
	// One cell of slack on each side absorbs rounding in the cell division.
	loX, loY := g.cellOf(x-radius, y-radius)
	hiX, hiY := g.cellOf(x+radius, y+radius)
	loX, loY = max(loX-1, g.minCX), max(loY-1, g.minCY)
	hiX, hiY = min(hiX+1, g.maxCX), min(hiY+1, g.maxCY)

	var hits []Hit
	for cx := loX; cx <= hiX; cx++ {
		for cy := loY; cy <= hiY; cy++ {
			for _, pos := range g.cells[cellKey(cx, cy)] {
				if subset != nil && !subset.Contains(uint32(pos)) {
					continue
				}
				l := g.locs[pos]
				if d := Distance(x, y, l.X, l.Y); d <= radius {
					hits = append(hits, Hit{Pos: pos, Dist: d})
				}
			}
		}
	}
	return hits
}

// Nearest implements Index by searching square rings of cells outwards from
// the query cell until no unvisited cell can hold a closer point. Rings that
// lie wholly outside the occupied extent are skipped.
func (g *Grid) Nearest(q Location, subset *roaring.Bitmap) (Hit, bool) {
	if len(g.locs) == 0 || (subset != nil && subset.IsEmpty()) {
		return Hit{}, false
	}
	cx, cy := g.cellOf(q.X, q.Y)
	first := max(g.minCX-cx, cx-g.maxCX, g.minCY-cy, cy-g.maxCY, 0)
	maxRing := max(abs64(cx-g.minCX), abs64(g.maxCX-cx), abs64(cy-g.minCY), abs64(g.maxCY-cy))

	best := Hit{Pos: -1}
	consider := func(pos int) {
		if subset != nil && !subset.Contains(uint32(pos)) {
			return
		}
		l := g.locs[pos]
		if l.ID == q.ID {
			return
		}
		d := Distance(q.X, q.Y, l.X, l.Y)
		if best.Pos < 0 || d < best.Dist || (d == best.Dist && l.ID < g.locs[best.Pos].ID) {
			best = Hit{Pos: pos, Dist: d}
		}
	}

	for k := first; k <= maxRing; k++ {
		g.visitRing(cx, cy, k, consider)
		// Cells beyond ring k are more than k*cellSize away; keep one ring of
		// slack so equal-distance candidates with lower IDs are still seen.
		if best.Pos >= 0 && best.Dist < float64(k-1)*g.cellSize {
			break
		}
	}
	if best.Pos < 0 {
		return Hit{}, false
	}
	return best, true
}

func (g *Grid) visitCell(x, y int64, fn func(pos int)) {
	for _, pos := range g.cells[cellKey(x, y)] {
		fn(pos)
	}
}

// visitRing calls fn for every location in the ring of cells at Chebyshev
// distance k from (cx, cy), clipped to the occupied extent.
func (g *Grid) visitRing(cx, cy, k int64, fn func(pos int)) {
	if k == 0 {
		if cx >= g.minCX && cx <= g.maxCX && cy >= g.minCY && cy <= g.maxCY {
			g.visitCell(cx, cy, fn)
		}
		return
	}
	loX, hiX := max(cx-k, g.minCX), min(cx+k, g.maxCX)
	for _, y := range [2]int64{cy - k, cy + k} {
		if y < g.minCY || y > g.maxCY {
			continue
		}
		for x := loX; x <= hiX; x++ {
			g.visitCell(x, y, fn)
		}
	}
	loY, hiY := max(cy-k+1, g.minCY), min(cy+k-1, g.maxCY)
	for _, x := range [2]int64{cx - k, cx + k} {
		if x < g.minCX || x > g.maxCX {
			continue
		}
		for y := loY; y <= hiY; y++ {
			g.visitCell(x, y, fn)
		}
	}
}

// CellSizeFor returns a cell edge that puts about perCell of locs in each
// cell when they are spread evenly over their bounding box.
func CellSizeFor(locs []Location, perCell float64) float64 {
	if len(locs) == 0 || !(perCell > 0) {
		return DefaultCellSize
	}
	minX, maxX, minY, maxY := locs[0].X, locs[0].X, locs[0].Y, locs[0].Y
	for _, l := range locs[1:] {
		minX, maxX = min(minX, l.X), max(maxX, l.X)
		minY, maxY = min(minY, l.Y), max(maxY, l.Y)
	}
	w, h := maxX-minX, maxY-minY
	area := w * h
	if area <= 0 {
		area = max(w, h) * max(w, h)
	}
	size := math.Sqrt(area * perCell / float64(len(locs)))
	if !(size > 0) || math.IsInf(size, 0) {
		return DefaultCellSize
	}
	return size
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
