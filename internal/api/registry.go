package api

import (
	"sync"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/data/cellseg"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
)

// FieldInfo describes a registered field for the API response.
type FieldInfo struct {
	ID         string   `json:"id"`
	Slide      string   `json:"slide,omitempty"`
	Source     string   `json:"source,omitempty"`
	Points     int      `json:"points"`
	Phenotypes []string `json:"phenotypes"`
	Categories []string `json:"categories"`
}

type fieldEntry struct {
	ps     *cells.PointSet
	source string
}

// FieldRegistry holds the point sets served by the API, in registration
// order.
type FieldRegistry struct {
	mu     sync.RWMutex
	fields map[string]fieldEntry
	order  []string
}

// NewFieldRegistry creates an empty registry.
func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{fields: make(map[string]fieldEntry)}
}

// Register adds a point set under its field ID. The set must hold exactly
// one field; re-registering an ID replaces the previous set.
func (r *FieldRegistry) Register(ps *cells.PointSet, source string) error {
	if err := ps.ValidateSingleField("register"); err != nil {
		return err
	}
	id := ps.FieldID()
	if id == "" {
		return errs.Validation("register", "point set has no field identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fields[id]; !ok {
		r.order = append(r.order, id)
	}
	r.fields[id] = fieldEntry{ps: ps, source: source}
	return nil
}

// LoadDir registers every field file in dir. Files that fail to load or hold
// several fields are logged and skipped. It returns the number registered.
func (r *FieldRegistry) LoadDir(dir string, opts cellseg.Options, logger logging.Logger) (int, error) {
	logger = logging.OrNop(logger)
	paths, err := cellseg.ListFieldFiles(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		ps, err := cellseg.ReadFile(p, opts)
		if err != nil {
			logger.Error("failed to load field", logging.String("source", p), logging.Err(err))
			continue
		}
		for _, w := range ps.Warnings() {
			logger.Warn("data integrity warning",
				logging.String("source", p),
				logging.String("message", w.Message),
				logging.Int("count", w.Count))
		}
		if err := r.Register(ps, p); err != nil {
			logger.Error("failed to register field", logging.String("source", p), logging.Err(err))
			continue
		}
		n++
	}
	return n, nil
}

// Get returns the point set of a field, or nil if not found.
func (r *FieldRegistry) Get(id string) *cells.PointSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[id].ps
}

// FieldIDs returns all field IDs in registration order.
func (r *FieldRegistry) FieldIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Fields returns field info for all registered fields.
func (r *FieldRegistry) Fields() []FieldInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]FieldInfo, 0, len(r.order))
	for _, id := range r.order {
		e := r.fields[id]
		infos = append(infos, FieldInfo{
			ID:         id,
			Slide:      e.ps.SlideID(),
			Source:     e.source,
			Points:     e.ps.Len(),
			Phenotypes: e.ps.Phenotypes(),
			Categories: e.ps.Categories(),
		})
	}
	return infos
}
