package distance

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"gonum.org/v1/gonum/mat"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/spatial"
)

// Dense computes every pairwise distance of the field once, on first use, and
// answers queries by scanning views of that matrix.
type Dense struct {
	ps     *cells.PointSet
	once   sync.Once
	full   *mat.SymDense
	notice error
}

// NewDense returns a dense provider over ps. The matrix is built lazily.
func NewDense(ps *cells.PointSet) *Dense {
	return &Dense{ps: ps}
}

// Strategy implements Provider.
func (d *Dense) Strategy() Strategy { return StrategyDense }

// Notice implements Provider.
func (d *Dense) Notice() error { return d.notice }

// Matrix returns the symmetric n×n distance matrix, or nil for an empty set.
func (d *Dense) Matrix() *mat.SymDense {
	d.once.Do(func() {
		n := d.ps.Len()
		if n == 0 {
			return
		}
		pts := d.ps.Points()
		m := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				m.SetSym(i, j, spatial.Distance(pts[i].X, pts[i].Y, pts[j].X, pts[j].Y))
			}
		}
		d.full = m
	})
	return d.full
}

// Relation returns the from×to view of the full matrix. No distance is
// recomputed.
func (d *Dense) Relation(from, to *roaring.Bitmap) *Relation {
	return &Relation{
		m:    d.Matrix(),
		rows: positions(from),
		cols: positions(to),
	}
}

// CountWithin implements Provider.
func (d *Dense) CountWithin(from, to *roaring.Bitmap, radii []float64) [][]int {
	rel := d.Relation(from, to)
	rows, cols := rel.Dims()
	counts := countsFor(radii, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dist := rel.At(i, j)
			if dist <= 0 {
				continue
			}
			for k, r := range radii {
				if dist <= r {
					counts[k][i]++
				}
			}
		}
	}
	return counts
}

// Nearest implements Provider.
func (d *Dense) Nearest(from, to *roaring.Bitmap) []Match {
	rel := d.Relation(from, to)
	rows, cols := rel.Dims()
	out := make([]Match, rows)
	for i := 0; i < rows; i++ {
		self := d.ps.At(rel.rows[i]).ID
		best := Match{}
		for j := 0; j < cols; j++ {
			q := d.ps.At(rel.cols[j])
			if q.ID == self {
				continue
			}
			dist := rel.At(i, j)
			if !best.Found || dist < best.Dist || (dist == best.Dist && q.ID < best.ID) {
				best = Match{Pos: rel.cols[j], ID: q.ID, Dist: dist, Found: true}
			}
		}
		out[i] = best
	}
	return out
}

// Relation is a row/column subset of a distance matrix. It satisfies
// mat.Matrix.
type Relation struct {
	m    mat.Matrix
	rows []int
	cols []int
}

// Dims implements mat.Matrix.
func (r *Relation) Dims() (int, int) { return len(r.rows), len(r.cols) }

// At implements mat.Matrix.
func (r *Relation) At(i, j int) float64 { return r.m.At(r.rows[i], r.cols[j]) }

// T implements mat.Matrix.
func (r *Relation) T() mat.Matrix { return mat.Transpose{Matrix: r} }

// Rows returns the PointSet positions of the relation's rows.
func (r *Relation) Rows() []int { return r.rows }

// Cols returns the PointSet positions of the relation's columns.
func (r *Relation) Cols() []int { return r.cols }

// NewDenseBetween computes the len(a)×len(b) distance matrix between two
// point lists directly. It returns nil when either list is empty.
func NewDenseBetween(a, b []cells.Point) *mat.Dense {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	m := mat.NewDense(len(a), len(b), nil)
	for i, p := range a {
		for j, q := range b {
			m.Set(i, j, spatial.Distance(p.X, p.Y, q.X, q.Y))
		}
	}
	return m
}

func positions(bm *roaring.Bitmap) []int {
	if bm == nil {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
