package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/extinit/internal/metrics"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
)

// Initializer is the part of extinit.Initializer the server reads and drives.
type Initializer interface {
	State() extinit.State
	EntryPoints(ctx context.Context) ([]entrypoint.EntryPoint, error)
	InitAll(ctx context.Context) (*extinit.Result, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey protects every route except /healthz and /metrics. Empty leaves
	// the API open, which is only sensible on loopback.
	APIKey string
	Group  string
	Name   string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	init      Initializer
	metrics   *metrics.Collector
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *EventHub

	mu   sync.Mutex
	last *extinit.Result
}

// New creates a new API server instance. hub should also be registered as an
// observer on the Initializer so outcomes stream to /events; nil creates a
// private hub that only carries init.completed.
func New(config Config, init Initializer, collector *metrics.Collector, hub *EventHub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = NewEventHub(256)
	}
	return &Server{
		config:    config,
		init:      init,
		metrics:   collector,
		logger:    logger,
		startedAt: time.Now(),
		events:    hub,
	}
}

// Events returns the hub that feeds /events.
func (s *Server) Events() *EventHub {
	return s.events
}

// RecordResult stores the outcome of an InitAll run made outside the server.
func (s *Server) RecordResult(res *extinit.Result) {
	if res == nil || res.Skipped {
		return
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetEntryPoints(s.config.Group, s.config.Name, res.Attempted)
	}
	s.events.Publish(EventInitCompleted, res)
}

func (s *Server) lastResult() *extinit.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Handler returns the configured router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware(routePattern))
	}

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/entrypoints", s.handleEntryPoints)
		r.Get("/status", s.handleStatus)
		r.Post("/init", s.handleInit)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// routePattern labels metrics by route rather than raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
