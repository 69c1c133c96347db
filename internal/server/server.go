// Package server is the thin HTTP layer over the ingest provider and
// aggregation engine. It owns routing, auth, and error-to-status mapping;
// all data semantics live below it.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/ingest"
	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/storage"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store    storage.Store
	provider *ingest.Provider
	engine   *aggregate.Engine
	log      *slog.Logger
	apiKey   string
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(store storage.Store, provider *ingest.Provider, engine *aggregate.Engine, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		store:    store,
		provider: provider,
		engine:   engine,
		log:      log,
		apiKey:   apiKey,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	// Ingest endpoints (API key required). The realtime route tags its
	// batches with the realtime source, which the step-count
	// device-priority filter prefers.
	s.router.Route("/api/v1/ingest", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/", s.ingestHandler(metrics.SourceGeneralExport))
		r.Post("/realtime", s.ingestHandler(metrics.SourceRealtimeExport))
	})

	// Query endpoints.
	s.router.Get("/api/v1/metrics", s.handleQueryMetrics)
	s.router.Get("/api/v1/metrics/latest", s.handleLatestMetrics)
	s.router.Get("/api/v1/kinds", s.handleKinds)
	s.router.Get("/api/v1/imports", s.handleImports)
	s.router.Get("/api/v1/stats", s.handleStats)
}
