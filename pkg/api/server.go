// Package api exposes the producer's HTTP surface: document submission,
// status polling, health, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/producer"
	"github.com/archon-intelligence/archon-ingest/pkg/status"
)

// Indexer is the producer surface the API calls.
type Indexer interface {
	Index(ctx context.Context, req *producer.IndexRequest) (*producer.IndexResult, error)
}

// DependencyCheck probes one downstream for the health endpoint.
type DependencyCheck struct {
	Name string
	// Critical dependencies flip health to unhealthy when down;
	// non-critical ones only degrade it.
	Critical bool
	Check    func(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	cfg      config.Config
	indexer  Indexer
	tracker  status.Tracker
	checks   []DependencyCheck
	registry *prometheus.Registry
	logger   *slog.Logger
	http     *http.Server
}

// NewServer wires routes. registry may be nil to disable /metrics.
func NewServer(cfg config.Config, indexer Indexer, tracker status.Tracker,
	checks []DependencyCheck, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		indexer:  indexer,
		tracker:  tracker,
		checks:   checks,
		registry: registry,
		logger:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.POST("/process/document", s.handleSubmit)
	engine.GET("/process/document/:document_id/status", s.handleStatus)
	engine.GET("/health", s.handleHealth)
	if registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	s.http = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Service.HTTPReadHeaderTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown or a listener failure.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}
