// Package server provides the HTTP API: questions, health, metrics and index administration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
)

// Admin runs index maintenance. *indexer.Indexer implements it.
type Admin interface {
	IndexAll(ctx context.Context, opts indexer.IndexOptions) (models.Summary, error)
	Sync(ctx context.Context, force bool) (models.Summary, error)
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) (models.Summary, error)
	Purge(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.IndexStats, error)
}

// Server is the HTTP server for the kotae API.
type Server struct {
	orchestrator *query.Orchestrator
	admin        Admin
	adminMu      sync.Mutex
	config       *config.ServerConfig
	logger       *zap.Logger
	metrics      *metrics.Recorder
	server       *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAdmin mounts the admin routes over admin.
func WithAdmin(admin Admin) Option {
	return func(s *Server) { s.admin = admin }
}

// WithMetrics serves rec on /metrics.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// NewServer creates a server with the given dependencies.
func NewServer(orchestrator *query.Orchestrator, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orchestrator,
		config:       cfg,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if s.config.RateLimit > 0 {
			r.Use(newRateLimiter(s.config.RateLimit, time.Minute).middleware)
		}
		// Timeouts for blocking answers are applied per request; streams run until the client leaves.
		r.Post("/query", s.handleQuery)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout()))
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.Handler())
	})

	if s.config.AdminEnabled && s.admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/index", s.handleAdminIndex)
			r.Post("/sync", s.handleAdminSync)
			r.Delete("/items", s.handleAdminRemoveAll)
			r.Delete("/items/{id}", s.handleAdminRemove)
			r.With(middleware.Timeout(s.requestTimeout())).Get("/stats", s.handleAdminStats)
		})
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server",
		zap.String("addr", addr),
		zap.Bool("admin", s.config.AdminEnabled && s.admin != nil),
		zap.Int("rate_limit", s.config.RateLimit),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.RequestTimeout > 0 {
		return s.config.RequestTimeout
	}
	return 60 * time.Second
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
