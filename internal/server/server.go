// Package server provides the HTTP interface for submitting, polling and
// cancelling forecast jobs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/config"
	"github.com/mkaravia/gridcast/internal/history"
	"github.com/mkaravia/gridcast/internal/jobs"
	"github.com/mkaravia/gridcast/internal/orchestrator"
)

// Server is the HTTP server wrapping the forecast engine.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger

	cfg          *config.Config
	manager      *jobs.Manager
	orchestrator *orchestrator.Orchestrator
	history      *history.Repository
}

// New creates a configured server. history may be nil when run history is
// disabled.
func New(cfg *config.Config, manager *jobs.Manager, orch *orchestrator.Orchestrator, hist *history.Repository, log zerolog.Logger) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          log.With().Str("component", "server").Logger(),
		cfg:          cfg,
		manager:      manager,
		orchestrator: orch,
		history:      hist,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/forecast", func(r chi.Router) {
			r.Post("/jobs", s.handleSubmitJob)
			r.Get("/jobs", s.handleJobsSummary)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
			r.Get("/scenarios/{scenario}", s.handleGetScenario)
			r.Get("/scenarios/{scenario}/sectors/{sector}", s.handleGetSectorResult)
		})
		r.Get("/history", s.handleHistory)
		r.Get("/history/{scenario}", s.handleHistoryByScenario)
		r.Get("/system/status", s.handleSystemStatus)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
