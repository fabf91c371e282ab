package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/explorer"
	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/metrics"
	"github.com/chis/regview/internal/session"
)

// Server represents the HTTP API server
type Server struct {
	service     *explorer.Service
	refresher   *explorer.Refresher
	eventBus    *events.Bus
	metrics     *metrics.Metrics
	rateLimiter *PathRateLimiter
	handler     http.Handler
	httpServer  *http.Server
	logger      *logging.Logger
	now         func() time.Time
}

// Config holds configuration for the API server
type Config struct {
	ListenAddr string
	Service    *explorer.Service

	// Optional.
	Refresher *explorer.Refresher
	EventBus  *events.Bus
	Metrics   *metrics.Metrics
	Sessions  *session.Store

	// RequestsPerMinute per client IP; 0 disables rate limiting.
	RequestsPerMinute int

	Logger *logging.Logger
	Now    func() time.Time
}

// NewServer creates a new API server with the given configuration
func NewServer(cfg Config) *Server {
	s := &Server{
		service:   cfg.Service,
		refresher: cfg.Refresher,
		eventBus:  cfg.EventBus,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if cfg.RequestsPerMinute > 0 {
		s.rateLimiter = NewPathRateLimiter(RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			BurstSize:         cfg.RequestsPerMinute / 6,
			CleanupInterval:   5 * time.Minute,
		})
		// Long-lived streams reconnect rarely; scans are expensive.
		s.rateLimiter.SetPathLimit("/api/events", RateLimitConfig{
			RequestsPerMinute: 10,
			BurstSize:         5,
		})
		s.rateLimiter.SetPathLimit("/api/health", RateLimitConfig{
			RequestsPerMinute: 120,
			BurstSize:         20,
		})
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// CORS -> Correlation ID -> Request Logging -> Rate Limit -> Session -> Handler
	middlewares := []func(http.Handler) http.Handler{
		corsMiddleware,
		CorrelationIDMiddleware,
		RequestLoggingMiddleware,
	}
	if s.rateLimiter != nil {
		middlewares = append(middlewares, PathRateLimitMiddleware(s.rateLimiter))
	}
	if cfg.Sessions != nil {
		middlewares = append(middlewares, SessionAuthMiddleware(cfg.Sessions, s.now))
	}
	s.handler = ChainMiddleware(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: ScanTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, instrument(s.metrics, pattern, h))
	}

	handle("GET /api/health", s.handleHealth)

	// Registry profiles
	handle("GET /api/registries", s.handleRegistriesList)
	handle("POST /api/registries", s.handleRegistriesAdd)
	handle("DELETE /api/registries/{id}", s.handleRegistriesRemove)

	// Registry operations
	handle("GET /api/registries/{id}/images", s.handleImages)
	handle("POST /api/registries/{id}/test", s.handleTestConnection)
	handle("DELETE /api/registries/{id}/images/{repo...}", s.handleDeleteTag)
	handle("GET /api/registries/{id}/history", s.handleHistory)

	// Server-Sent Events for scan progress
	handle("GET /api/events", s.handleEvents)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	if s.refresher != nil {
		s.refresher.Start()
	}

	s.logger.Info("Starting API server on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")

	if s.refresher != nil {
		s.refresher.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
