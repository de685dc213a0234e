// Package api exposes campaign management over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokopoints/campaigner/internal/audience"
	"github.com/tokopoints/campaigner/internal/config"
	"github.com/tokopoints/campaigner/internal/dispatch"
	"github.com/tokopoints/campaigner/internal/metrics"
	"github.com/tokopoints/campaigner/internal/policy"
	"github.com/tokopoints/campaigner/internal/store"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *store.Store
	resolver   *audience.Resolver
	dispatcher *dispatch.Dispatcher
	policy     policy.Config
	metrics    *metrics.Metrics
	config     *config.ServerConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(st *store.Store, rv *audience.Resolver, d *dispatch.Dispatcher,
	pol policy.Config, m *metrics.Metrics, cfg *config.ServerConfig, logger *slog.Logger) *Server {

	s := &Server{
		router:     chi.NewRouter(),
		store:      st,
		resolver:   rv,
		dispatcher: d,
		policy:     pol,
		metrics:    m,
		config:     cfg,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/audience/resolve", s.handleResolveAudience)
		r.Post("/messages/validate", s.handleValidateMessage)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Post("/campaigns/{id}/launch", s.handleLaunchCampaign)
		r.Post("/campaigns/{id}/pause", s.handlePauseCampaign)
		r.Post("/campaigns/{id}/resume", s.handleResumeCampaign)
		r.Post("/campaigns/{id}/archive", s.handleArchiveCampaign)
		r.Post("/campaigns/{id}/test-send", s.handleTestSend)
	})
}

// Router returns the configured handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
