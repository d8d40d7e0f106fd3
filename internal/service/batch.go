package service

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/atlasmap-sc/phenospatial/internal/cache"
	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
)

// Pair is an unresolved from/to selection.
type Pair struct {
	From cells.Selector
	To   cells.Selector
}

// BatchRequest describes a radius-count batch. An empty Categories list
// means all cells.
type BatchRequest struct {
	Pairs      []Pair
	Radii      []float64
	Categories []string
	Rules      cells.Rules
	// Workers is the number of fields processed concurrently; <= 1 is
	// sequential.
	Workers int
}

// Combinations validates the request and returns its resolved combinations:
// categories in the outer loop, pairs in the inner loop, both in request
// order.
func (r BatchRequest) Combinations() ([]Combination, error) {
	const op = "batch"
	if len(r.Pairs) == 0 {
		return nil, errs.Validation(op, "no from/to pairs given")
	}
	if err := ValidateRadii(op, r.Radii); err != nil {
		return nil, err
	}
	categories, err := cells.ValidateCategories(r.Categories)
	if err != nil {
		return nil, err
	}
	if err := r.Rules.Validate(); err != nil {
		return nil, err
	}

	type resolved struct{ from, to cells.Predicate }
	pairs := make([]resolved, len(r.Pairs))
	for i, p := range r.Pairs {
		from, err := r.Rules.Resolve(p.From)
		if err != nil {
			return nil, fmt.Errorf("pair %d from: %w", i, err)
		}
		to, err := r.Rules.Resolve(p.To)
		if err != nil {
			return nil, fmt.Errorf("pair %d to: %w", i, err)
		}
		pairs[i] = resolved{from: from, to: to}
	}

	combos := make([]Combination, 0, len(categories)*len(pairs))
	for _, category := range categories {
		for _, p := range pairs {
			combos = append(combos, Combination{From: p.from, To: p.to, Category: category})
		}
	}
	return combos, nil
}

// Loader reads the point set of one field from path.
type Loader func(path string) (*cells.PointSet, error)

// FieldSource is one field of a batch: either a loaded PointSet or a path
// read with Load when the field is processed.
type FieldSource struct {
	PointSet *cells.PointSet
	Path     string
	Load     Loader
}

func (s FieldSource) name() string {
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	if s.PointSet != nil {
		return s.PointSet.FieldID()
	}
	return ""
}

// BatchResult collects the rows of every field that succeeded and a failure
// record for every field that did not. Rows are ordered by field, then
// combination, then radius.
type BatchResult struct {
	RunID    string                      `json:"run_id"`
	Rows     []CountRow                  `json:"rows"`
	Failures []errs.FieldFailure         `json:"-"`
	Warnings []errs.DataIntegrityWarning `json:"warnings,omitempty"`
	Notices  []string                    `json:"notices,omitempty"`
}

// Failed reports whether any field failed.
func (r *BatchResult) Failed() bool { return len(r.Failures) > 0 }

type fieldOutcome struct {
	rows     []CountRow
	failure  *errs.FieldFailure
	warnings []errs.DataIntegrityWarning
	notice   string
}

// Batch runs every combination of req over every source. Request errors are
// returned immediately; field errors are recorded in the result and never
// stop the remaining fields.
func Batch(sources []FieldSource, req BatchRequest, opts Options) (*BatchResult, error) {
	combos, err := req.Combinations()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := opts.logger().With(logging.String("run_id", runID))
	logger.Info("batch started",
		logging.Int("fields", len(sources)),
		logging.Int("combinations", len(combos)),
		logging.Int("radii", len(req.Radii)),
		logging.Int("workers", max(req.Workers, 1)))
	start := time.Now()

	// Batch runs build one provider per field.
	opts.Provider = nil
	outcomes := make([]fieldOutcome, len(sources))
	pool := newFieldPool(req.Workers, len(sources), func(idx int) {
		outcomes[idx] = runField(sources[idx], combos, req.Radii, opts, logger)
	})
	pool.Run(len(sources))

	res := &BatchResult{RunID: runID}
	for _, o := range outcomes {
		res.Warnings = append(res.Warnings, o.warnings...)
		if o.notice != "" {
			res.Notices = append(res.Notices, o.notice)
		}
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		res.Rows = append(res.Rows, o.rows...)
	}

	logger.Info("batch finished",
		logging.Int("rows", len(res.Rows)),
		logging.Int("failed_fields", len(res.Failures)),
		logging.Duration("elapsed", time.Since(start)))
	return res, nil
}

// CountWithinMany runs a batch over a single loaded point set.
func CountWithinMany(ps *cells.PointSet, req BatchRequest, opts Options) (*BatchResult, error) {
	return Batch([]FieldSource{{PointSet: ps}}, req, opts)
}

// CountWithinFiles runs a batch over files, reading each with load when its
// field is processed. Paths are processed in the given order.
func CountWithinFiles(paths []string, load Loader, req BatchRequest, opts Options) (*BatchResult, error) {
	if load == nil {
		return nil, errs.Validation("batch", "no loader given for %d files", len(paths))
	}
	sources := make([]FieldSource, len(paths))
	for i, p := range paths {
		sources[i] = FieldSource{Path: p, Load: load}
	}
	return Batch(sources, req, opts)
}

func runField(src FieldSource, combos []Combination, radii []float64, opts Options, logger logging.Logger) (out fieldOutcome) {
	start := time.Now()
	strategy := ""
	fail := func(field string, err error) {
		out.rows = nil
		out.failure = &errs.FieldFailure{Field: field, Source: src.Path, Err: err}
		logger.Error("field failed",
			logging.String("field", field),
			logging.String("source", src.Path),
			logging.Err(err))
		opts.Metrics.FieldDone(strategy, time.Since(start), err)
	}
	defer func() {
		if r := recover(); r != nil {
			fail(src.name(), fmt.Errorf("panic: %v", r))
		}
	}()

	ps := src.PointSet
	if ps == nil {
		if src.Load == nil {
			fail(src.name(), errs.Validation("batch", "field source has neither points nor loader"))
			return out
		}
		var err error
		if ps, err = src.Load(src.Path); err != nil {
			fail(src.name(), fmt.Errorf("failed to load %s: %w", src.Path, err))
			return out
		}
	}

	field := ps.FieldID()
	if field == "" {
		field = src.name()
	}
	for _, w := range ps.Warnings() {
		if w.Source == "" {
			w.Source = src.Path
		}
		out.warnings = append(out.warnings, w)
	}
	warnAll(logger, out.warnings)

	if err := ps.ValidateSingleField("batch"); err != nil {
		fail(field, err)
		return out
	}

	prov, err := opts.provider(ps)
	if err != nil {
		fail(field, err)
		return out
	}
	strategy = string(prov.Strategy())
	if n := noticeText(prov); n != "" {
		out.notice = fmt.Sprintf("%s: %s", field, n)
	}

	masks, err := cache.NewMasks(ps, opts.Cache)
	if err != nil {
		fail(field, err)
		return out
	}

	slide := ps.SlideID()
	for _, combo := range combos {
		from := masks.Select(combo.From, combo.Category)
		to := masks.Select(combo.To, combo.Category)
		rows := countRows(prov, combo, from, to, radii)
		for i := range rows {
			rows[i].Field = field
			rows[i].Slide = slide
		}
		out.rows = append(out.rows, rows...)
	}

	logger.Debug("field done",
		logging.String("field", field),
		logging.String("strategy", strategy),
		logging.Int("rows", len(out.rows)),
		logging.Any("mask_cache", masks.Stats()))
	opts.Metrics.FieldDone(strategy, time.Since(start), nil)
	opts.Metrics.Rows("count", len(out.rows))
	return out
}
