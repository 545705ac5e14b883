// Package server exposes the SkuldDB ingestion and query boundaries
// over HTTP.
//
// Routes:
//
//	POST /api/v1/entities                  ingest one entity
//	POST /api/v1/relations                 ingest one relation
//	GET  /api/v1/entities                  list stored entities
//	GET  /api/v1/entities/:id              fetch one entity
//	GET  /api/v1/kinds                     valid entity and relation kinds
//	GET  /api/v1/stats                     graph statistics
//	POST /api/v1/analytics/discover        run causal discovery (?window=1h)
//	POST /api/v1/analytics/chains          rebuild causal chains (?max_length=5)
//	POST /api/v1/analytics/patterns        mine temporal patterns
//	POST /api/v1/analytics/predictions     project predictions (?horizon=24h)
//	GET  /api/v1/hypotheses                current hypothesis set
//	GET  /api/v1/chains                    current chain set
//	GET  /api/v1/patterns                  current pattern set
//	GET  /api/v1/predictions               current prediction set
//	GET  /health                           liveness probe
//	GET  /metrics                          Prometheus metrics (optional)
//
// Analytics runs are triggered with POST because they mutate the
// published artifact sets; the GET routes read the last published set
// without recomputing anything.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/config"
	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/skulddb"
)

// Server serves the HTTP API for one DB.
type Server struct {
	cfg     config.ServerConfig
	db      *skulddb.DB
	log     zerolog.Logger
	router  *gin.Engine
	metrics *metrics
	httpSrv *http.Server
}

// New builds a server around an open DB.
func New(db *skulddb.DB, cfg config.ServerConfig, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg: cfg,
		db:  db,
		log: log.With().Str("component", "server").Logger(),
		metrics: newMetrics(
			func() float64 { return float64(db.Stats().EntityCount) },
			func() float64 { return float64(db.Stats().RelationCount) },
		),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		api.POST("/entities", s.handleAddEntity)
		api.POST("/relations", s.handleAddRelation)
		api.GET("/entities", s.handleListEntities)
		api.GET("/entities/:id", s.handleGetEntity)
		api.GET("/kinds", s.handleKinds)
		api.GET("/stats", s.handleStats)

		api.POST("/analytics/discover", s.handleDiscover)
		api.POST("/analytics/chains", s.handleBuildChains)
		api.POST("/analytics/patterns", s.handleMinePatterns)
		api.POST("/analytics/predictions", s.handlePredict)

		api.GET("/hypotheses", func(c *gin.Context) { c.JSON(http.StatusOK, s.db.Hypotheses()) })
		api.GET("/chains", func(c *gin.Context) { c.JSON(http.StatusOK, s.db.Chains()) })
		api.GET("/patterns", func(c *gin.Context) { c.JSON(http.StatusOK, s.db.Patterns()) })
		api.GET("/predictions", func(c *gin.Context) { c.JSON(http.StatusOK, s.db.Predictions()) })
	}

	s.router = router
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// runAnalytics wraps one analytics handler with metrics and the shared
// error mapping.
func (s *Server) runAnalytics(c *gin.Context, kind string, run func() (any, error)) {
	start := time.Now()
	out, err := run()
	s.metrics.analyticsDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.analyticsRuns.WithLabelValues(kind, "error").Inc()
		s.abortWithError(c, err)
		return
	}
	s.metrics.analyticsRuns.WithLabelValues(kind, "ok").Inc()
	c.JSON(http.StatusOK, out)
}

// abortWithError maps domain errors onto HTTP statuses.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, graph.ErrDuplicateID):
		status, code = http.StatusConflict, "duplicate_id"
	case errors.Is(err, graph.ErrUnknownEntity):
		status, code = http.StatusUnprocessableEntity, "unknown_entity"
	case errors.Is(err, graph.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, graph.ErrInvalidWindow):
		status, code = http.StatusBadRequest, "invalid_window"
	case errors.Is(err, graph.ErrInvalidData), errors.Is(err, graph.ErrInvalidID):
		status, code = http.StatusBadRequest, "invalid_data"
	case errors.Is(err, skulddb.ErrAnalyticsBusy):
		status, code = http.StatusConflict, "analytics_busy"
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
