// Package api exposes the rollup engine over HTTP: rollup CRUD, execution
// dispatch and inspection, blast-radius queries, dead letter management,
// health, and metrics. Handlers stay thin; behavior lives in the services
// and engines they call.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crossgraph/rollup/pkg/blast"
	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/orchestrator"
	"github.com/crossgraph/rollup/pkg/services"
)

// Server is the HTTP surface of the rollup engine.
type Server struct {
	cfg     *config.ServerConfig
	rollups *services.RollupService
	blast   *blast.Engine
	orc     *orchestrator.Orchestrator
	cache   *rollupcache.TieredCache // nil when caching disabled
	db      *sql.DB                  // nil when running on in-memory stores
	router  *gin.Engine
	httpSrv *http.Server
}

// NewServer wires the router. blastEngine, cache, and db may be nil.
func NewServer(cfg *config.ServerConfig, rollups *services.RollupService, blastEngine *blast.Engine, orc *orchestrator.Orchestrator, cache *rollupcache.TieredCache, db *sql.DB) *Server {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	s := &Server{
		cfg:     cfg,
		rollups: rollups,
		blast:   blastEngine,
		orc:     orc,
		cache:   cache,
		db:      db,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders(), correlationID())

	router.GET("/healthz", s.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", requireTenant())
	{
		v1.POST("/rollups", s.createRollupHandler)
		v1.GET("/rollups", s.listRollupsHandler)
		v1.GET("/rollups/:id", s.getRollupHandler)
		v1.PUT("/rollups/:id", s.updateRollupHandler)
		v1.DELETE("/rollups/:id", s.deleteRollupHandler)
		v1.POST("/rollups/:id/execute", s.executeRollupHandler)

		v1.GET("/executions/:id", s.getExecutionHandler)
		v1.POST("/executions/:id/cancel", s.cancelExecutionHandler)

		v1.GET("/dead-letters", s.listDeadLettersHandler)
		v1.POST("/dead-letters/:id/retry", s.retryDeadLetterHandler)
		v1.POST("/dead-letters/:id/discard", s.discardDeadLetterHandler)

		v1.POST("/blast-radius", s.blastRadiusHandler)
	}
	return router
}

// Handler returns the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
