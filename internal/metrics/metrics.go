// Package metrics owns the Prometheus registry for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phenospatial"

// Recorder holds the engine collectors. A nil *Recorder is valid and records
// nothing, so library callers need not wire metrics.
type Recorder struct {
	registry *prometheus.Registry

	fields    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	fallbacks prometheus.Counter
}

// Options configures New.
type Options struct {
	// RuntimeCollectors adds the Go and process collectors. Tests leave it off.
	RuntimeCollectors bool
}

// New creates a Recorder with its own registry.
func New(opts Options) *Recorder {
	reg := prometheus.NewRegistry()
	if opts.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		)
	}

	r := &Recorder{
		registry: reg,
		fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_total",
			Help:      "Fields processed, by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "field_duration_seconds",
			Help:      "Time spent computing one field, by distance strategy.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Result rows produced, by operation.",
		}, []string{"operation"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_fallbacks_total",
			Help:      "Indexed strategy requests served densely because no spatial index was available.",
		}),
	}
	reg.MustRegister(r.fields, r.duration, r.rows, r.fallbacks)
	return r
}

// FieldDone records one processed field.
func (r *Recorder) FieldDone(strategy string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.fields.WithLabelValues(status).Inc()
	if err == nil {
		r.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	}
}

// Rows adds n produced rows for operation ("count" or "nearest").
func (r *Recorder) Rows(operation string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rows.WithLabelValues(operation).Add(float64(n))
}

// Fallback records one dense fallback.
func (r *Recorder) Fallback() {
	if r == nil {
		return
	}
	r.fallbacks.Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
