// Package api serves the build history over a read-only HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/metrics"
	"github.com/asgardahost/rpmbuilder/internal/models"
)

// Store is the part of the history database the API reads.
type Store interface {
	ListBuildRecords(repository string, limit int) ([]*models.BuildRecord, error)
	GetBuildRecordByWorkspace(workspace string) (*models.BuildRecord, error)
	CountBuildsByStatus() (map[string]int, error)
	GetBuildStatsPerDay(days int) (map[string]map[string]int, error)
}

// Server holds the API server components
type Server struct {
	store    Store
	config   config.ServerConfig
	registry *prom.Registry
	router   *gin.Engine
}

// NewServer creates a new API server. Metrics of registry are served on
// /metrics, together with a gauge of recorded builds per status.
func NewServer(store Store, cfg config.ServerConfig, registry *prom.Registry, debug bool) *Server {
	if registry == nil {
		registry = prom.NewRegistry()
	}
	registry.MustRegister(metrics.NewHistoryCollector(store))

	s := &Server{
		store:    store,
		config:   cfg,
		registry: registry,
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()

	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/builds", s.handleListBuilds)
		v1.GET("/builds/:workspace", s.handleGetBuild)
		v1.GET("/stats", s.handleStats)
		v1.GET("/builds-per-day", s.handleBuildsPerDay)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.HTTPHandler(s.registry)))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleListBuilds handles GET /api/v1/builds
func (s *Server) handleListBuilds(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if _, err := fmt.Sscanf(l, "%d", &limit); err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
	}

	records, err := s.store.ListBuildRecords(c.Query("repository"), limit)
	if err != nil {
		slog.Error("Failed to list builds", logfields.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list builds"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"builds": records, "count": len(records)})
}

// handleGetBuild handles GET /api/v1/builds/:workspace
func (s *Server) handleGetBuild(c *gin.Context) {
	workspace := c.Param("workspace")

	record, err := s.store.GetBuildRecordByWorkspace(workspace)
	if err != nil {
		slog.Error("Failed to get build", logfields.Workspace(workspace), logfields.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get build"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no build recorded for workspace %s", workspace)})
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.store.CountBuildsByStatus(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
