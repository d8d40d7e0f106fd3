package service

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
)

// Neighbor is the nearest point of one target phenotype. Distance and
// NearestID are nil when no candidate exists.
type Neighbor struct {
	Phenotype string   `json:"phenotype"`
	Distance  *float64 `json:"distance"`
	NearestID *int64   `json:"nearest_id"`
}

// NearestRow holds the nearest neighbours of one source point, one entry per
// requested target in request order.
type NearestRow struct {
	Field     string     `json:"field,omitempty"`
	Slide     string     `json:"slide,omitempty"`
	ID        int64      `json:"id"`
	Phenotype string     `json:"phenotype"`
	Category  string     `json:"category,omitempty"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Get returns the neighbour entry for target phenotype label.
func (r NearestRow) Get(phenotype string) (Neighbor, bool) {
	for _, n := range r.Neighbors {
		if n.Phenotype == phenotype {
			return n, true
		}
	}
	return Neighbor{}, false
}

// NearestNeighbors finds, for every point of ps and every target, the
// closest target point other than the point itself. A nil targets list
// means every phenotype present in ps, in sorted order. Rows follow the
// PointSet order.
func NearestNeighbors(ps *cells.PointSet, targets []cells.Predicate, opts Options) ([]NearestRow, error) {
	const op = "nearest_neighbors"
	start := time.Now()
	warnAll(opts.logger(), ps.Warnings())
	if err := ps.ValidateSingleField(op); err != nil {
		return nil, err
	}
	if targets == nil {
		for _, name := range ps.Phenotypes() {
			targets = append(targets, cells.PhenotypePredicate(name))
		}
	}

	prov, err := opts.provider(ps)
	if err != nil {
		return nil, err
	}

	all := ps.CategoryMask(cells.AllCategories)
	rows := make([]NearestRow, ps.Len())
	for i, p := range ps.Points() {
		rows[i] = NearestRow{
			Field:     p.Field,
			Slide:     p.Slide,
			ID:        p.ID,
			Phenotype: p.Phenotype,
			Category:  p.Category,
			Neighbors: make([]Neighbor, len(targets)),
		}
	}

	for t, target := range targets {
		matches := prov.Nearest(all, ps.Mask(target, cells.AllCategories))
		for i, m := range matches {
			nb := Neighbor{Phenotype: target.Label}
			if m.Found {
				dist, id := m.Dist, m.ID
				nb.Distance, nb.NearestID = &dist, &id
			}
			rows[i].Neighbors[t] = nb
		}
	}

	opts.Metrics.FieldDone(string(prov.Strategy()), time.Since(start), nil)
	opts.Metrics.Rows("nearest", len(rows))
	return rows, nil
}

// NearestResult is the nearest-neighbour table of one field file. Err is set
// when the field could not be loaded or queried.
type NearestResult struct {
	Field  string
	Source string
	Rows   []NearestRow
	Err    error
}

// NearestNeighborsFiles runs NearestNeighbors over each file, workers at a
// time. Results follow the order of paths; a failing field does not affect
// the others. With nil targets each field uses its own phenotypes.
func NearestNeighborsFiles(paths []string, load Loader, targets []cells.Predicate, workers int, opts Options) []NearestResult {
	opts.Provider = nil
	logger := opts.logger()
	out := make([]NearestResult, len(paths))
	pool := newFieldPool(workers, len(paths), func(idx int) {
		out[idx] = nearestFile(paths[idx], load, targets, opts, logger)
	})
	pool.Run(len(paths))
	return out
}

func nearestFile(path string, load Loader, targets []cells.Predicate, opts Options, logger logging.Logger) (res NearestResult) {
	res.Source = path
	res.Field = filepath.Base(path)
	defer func() {
		if r := recover(); r != nil {
			res.Rows, res.Err = nil, fmt.Errorf("panic: %v", r)
		}
		if res.Err != nil {
			logger.Error("field failed", logging.String("source", path), logging.Err(res.Err))
		}
	}()

	if load == nil {
		res.Err = errs.Validation("nearest_neighbors", "no loader given")
		return res
	}
	ps, err := load(path)
	if err != nil {
		res.Err = fmt.Errorf("failed to load %s: %w", path, err)
		return res
	}
	if id := ps.FieldID(); id != "" {
		res.Field = id
	}
	res.Rows, res.Err = NearestNeighbors(ps, targets, opts)
	return res
}
