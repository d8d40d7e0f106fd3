// Package api provides HTTP handlers for the phenospatial server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/errs"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/service"
)

const maxRequestBodyBytes = 10 << 20 // 10 MiB

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *FieldRegistry
	CORSOrigins []string
	// Options is passed to every query; its Metrics also back /metrics.
	Options service.Options
	// Rules are the configured selection rules; requests may add to them.
	Rules   cells.Rules
	Workers int
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	logger := logging.OrNop(cfg.Options.Logger).Named("http")

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", cfg.Options.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/fields", fieldsHandler(cfg.Registry))
		r.Post("/count", batchHandler(cfg))

		r.Route("/fields/{field}", func(r chi.Router) {
			r.Get("/nearest", nearestHandler(cfg))
			r.Post("/nearest", nearestHandler(cfg))
			r.Post("/count", countHandler(cfg))
		})
	})

	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("elapsed", time.Since(start)),
				logging.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps validation errors to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	if errs.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("decode", "empty request body")
		}
		return errs.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}

func wantsTSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "tsv"
}

func fieldsHandler(registry *FieldRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"fields": registry.Fields(),
		})
	}
}

func lookupField(w http.ResponseWriter, r *http.Request, registry *FieldRegistry) (*cells.PointSet, string, bool) {
	id := chi.URLParam(r, "field")
	ps := registry.Get(id)
	if ps == nil {
		http.Error(w, "field not found: "+id, http.StatusNotFound)
		return nil, id, false
	}
	return ps, id, true
}

type nearestRequest struct {
	Phenotypes []selectorJSON `json:"phenotypes"`
	Rules      ruleSetJSON    `json:"rules"`
}

// nearestHandler accepts targets in a JSON body (POST) or as a
// "phenotypes" query list (GET). No targets means every phenotype.
func nearestHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, id, ok := lookupField(w, r, cfg.Registry)
		if !ok {
			return
		}

		var req nearestRequest
		if r.Method == http.MethodPost {
			if err := decodeBody(r, &req); err != nil {
				writeError(w, err)
				return
			}
		} else if names, ok := parseNameList(r.URL.Query(), "phenotypes"); ok {
			for _, n := range names {
				req.Phenotypes = append(req.Phenotypes, selectorJSON{Selector: cells.Phenotype(n)})
			}
		}

		rules := req.Rules.merge(cfg.Rules)
		if err := rules.Validate(); err != nil {
			writeError(w, err)
			return
		}
		var targets []cells.Predicate
		for _, s := range req.Phenotypes {
			p, err := rules.Resolve(s.Selector)
			if err != nil {
				writeError(w, err)
				return
			}
			targets = append(targets, p)
		}

		rows, err := service.NearestNeighbors(ps, targets, cfg.Options)
		if err != nil {
			writeError(w, err)
			return
		}
		if wantsTSV(r) {
			w.Header().Set("Content-Type", "text/tab-separated-values")
			service.WriteNearestTable(w, rows)
			return
		}
		writeJSON(w, map[string]interface{}{
			"field": id,
			"rows":  rows,
		})
	}
}

type countRequest struct {
	From     selectorJSON `json:"from"`
	To       selectorJSON `json:"to"`
	Radii    []float64    `json:"radii"`
	Category string       `json:"category"`
	Rules    ruleSetJSON  `json:"rules"`
}

func countHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, id, ok := lookupField(w, r, cfg.Registry)
		if !ok {
			return
		}
		var req countRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}

		rules := req.Rules.merge(cfg.Rules)
		if err := rules.Validate(); err != nil {
			writeError(w, err)
			return
		}
		from, err := rules.Resolve(req.From.Selector)
		if err != nil {
			writeError(w, err)
			return
		}
		to, err := rules.Resolve(req.To.Selector)
		if err != nil {
			writeError(w, err)
			return
		}

		combo := service.Combination{From: from, To: to, Category: req.Category}
		rows, err := service.CountWithin(ps, combo, req.Radii, cfg.Options)
		if err != nil {
			writeError(w, err)
			return
		}
		if wantsTSV(r) {
			w.Header().Set("Content-Type", "text/tab-separated-values")
			service.WriteCountTable(w, rows)
			return
		}
		writeJSON(w, map[string]interface{}{
			"field": id,
			"rows":  rows,
		})
	}
}

type pairJSON struct {
	From selectorJSON `json:"from"`
	To   selectorJSON `json:"to"`
}

type batchRequest struct {
	Pairs      []pairJSON  `json:"pairs"`
	Radii      []float64   `json:"radii"`
	Categories []string    `json:"categories"`
	Rules      ruleSetJSON `json:"rules"`
	// Fields restricts the batch to these field IDs; empty means all.
	Fields []string `json:"fields"`
}

type failureJSON struct {
	Field  string `json:"field"`
	Source string `json:"source,omitempty"`
	Error  string `json:"error"`
}

func batchHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}

		ids := req.Fields
		if len(ids) == 0 {
			ids = cfg.Registry.FieldIDs()
		}
		sources := make([]service.FieldSource, 0, len(ids))
		for _, id := range ids {
			ps := cfg.Registry.Get(id)
			if ps == nil {
				http.Error(w, "field not found: "+id, http.StatusNotFound)
				return
			}
			sources = append(sources, service.FieldSource{PointSet: ps})
		}

		breq := service.BatchRequest{
			Radii:      req.Radii,
			Categories: req.Categories,
			Rules:      req.Rules.merge(cfg.Rules),
			Workers:    cfg.Workers,
		}
		for _, p := range req.Pairs {
			breq.Pairs = append(breq.Pairs, service.Pair{From: p.From.Selector, To: p.To.Selector})
		}

		res, err := service.Batch(sources, breq, cfg.Options)
		if err != nil {
			writeError(w, err)
			return
		}
		if wantsTSV(r) {
			w.Header().Set("Content-Type", "text/tab-separated-values")
			w.Header().Set("X-Run-ID", res.RunID)
			w.Header().Set("X-Failed-Fields", fmt.Sprint(len(res.Failures)))
			service.WriteCountTable(w, res.Rows)
			return
		}

		failures := make([]failureJSON, 0, len(res.Failures))
		for _, f := range res.Failures {
			failures = append(failures, failureJSON{Field: f.Field, Source: f.Source, Error: f.Err.Error()})
		}
		writeJSON(w, map[string]interface{}{
			"run_id":   res.RunID,
			"rows":     res.Rows,
			"failures": failures,
			"warnings": res.Warnings,
			"notices":  res.Notices,
		})
	}
}
