// Package service implements the spatial queries over labeled point sets:
// nearest neighbours, radius counts, and the batch combinator that runs
// radius counts over many fields and phenotype combinations.
package service

import (
	"github.com/atlasmap-sc/phenospatial/internal/cache"
	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/distance"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/metrics"
)

// Options carries the collaborators shared by every query. The zero value is
// not ready for use; start from DefaultOptions.
type Options struct {
	Distance distance.Options
	// Provider, when set, is reused instead of building one. It must have
	// been built for the same PointSet. Batch runs ignore it.
	Provider distance.Provider
	Cache    cache.Config
	Logger   logging.Logger
	Metrics  *metrics.Recorder
}

// DefaultOptions returns auto strategy selection with a grid index, no
// logging and no metrics.
func DefaultOptions() Options {
	return Options{
		Distance: distance.DefaultOptions(),
		Cache:    cache.Config{MaskCacheSize: cache.DefaultMaskCacheSize},
		Logger:   logging.NewNop(),
	}
}

func (o Options) logger() logging.Logger {
	return logging.OrNop(o.Logger)
}

// provider returns the configured provider for ps, building one if needed.
// A fallback notice is logged by distance.New and counted here.
func (o Options) provider(ps *cells.PointSet) (distance.Provider, error) {
	if o.Provider != nil {
		return o.Provider, nil
	}
	dopts := o.Distance
	if dopts.Logger == nil {
		dopts.Logger = o.Logger
	}
	p, err := distance.New(ps, dopts)
	if err != nil {
		return nil, err
	}
	if p.Notice() != nil {
		o.Metrics.Fallback()
	}
	return p, nil
}

func noticeText(p distance.Provider) string {
	if n := p.Notice(); n != nil {
		return n.Error()
	}
	return ""
}

func warnAll(l logging.Logger, ws []errs.DataIntegrityWarning) {
	for _, w := range ws {
		l.Warn("data integrity warning",
			logging.String("field", w.Field),
			logging.String("source", w.Source),
			logging.String("message", w.Message),
			logging.Int("count", w.Count))
	}
}
