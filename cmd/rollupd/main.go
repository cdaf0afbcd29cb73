// Command rollupd runs the cross-repository rollup engine: the HTTP API,
// the execution orchestrator, and the external-ID index over PostgreSQL
// and Redis.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossgraph/rollup/pkg/api"
	"github.com/crossgraph/rollup/pkg/blast"
	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/cache/rediscache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/database"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/index"
	"github.com/crossgraph/rollup/pkg/orchestrator"
	"github.com/crossgraph/rollup/pkg/services"
	"github.com/crossgraph/rollup/pkg/store/postgres"
	"github.com/crossgraph/rollup/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config",
		getEnv("ROLLUP_CONFIG", "rollup.yaml"),
		"path to the rollup.yaml configuration file")
	flag.Parse()

	slog.Info("Starting rollupd",
		"version", version.Full(),
		"config", *configPath)

	// 1. Configuration (loads .env, applies yaml over defaults, validates)
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 2. PostgreSQL client and stores (runs migrations)
	client, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	rollups := postgres.NewRollupStore(client.DB())
	scans := postgres.NewScanGraphStore(client.DB())
	entries := postgres.NewExternalObjectStore(client.DB())

	// 3. Redis: L2 blob cache and event publisher
	var redisClient *redis.Client
	var l2 rollupcache.BlobCache
	var publisher events.Publisher
	if cfg.Cache.EnableL2 {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Address, "error", err)
			os.Exit(1)
		}
		l2 = rediscache.New(redisClient)
		publisher = events.NewRedisPublisher(redisClient)
		slog.Info("Connected to Redis", "addr", cfg.Redis.Address)
	}

	cache, err := rollupcache.NewTieredCache(cfg.Cache, l2)
	if err != nil {
		slog.Error("Failed to initialize cache", "error", err)
		os.Exit(1)
	}

	// 4. Event bus
	bus := events.NewBus(publisher, cfg.Events)

	// 5. External-ID index engine
	idx := index.NewEngine(scans, entries, cache, extract.DefaultRegistry(), cfg.Limits)
	index.SetDefault(idx)

	// 6. Orchestrator; requeue executions interrupted by the last shutdown
	orc := orchestrator.New(cfg.Orchestrator, cfg.Limits, rollups, scans, idx, cache, bus, cfg.Cache.KeyPrefix)
	resumeInterrupted(ctx, client.DB(), orc)
	orc.Start()
	slog.Info("Orchestrator started", "workers", cfg.Orchestrator.WorkerCount)

	// 7. Service layer and blast radius engine
	svc := services.NewRollupService(rollups, scans, orc, bus, cache, cfg.Limits, cfg.Cache.KeyPrefix)
	blastEngine := blast.NewEngine(scans, cache, cfg.Cache.KeyPrefix, cfg.Limits)

	// 8. HTTP server
	server := api.NewServer(cfg.Server, svc, blastEngine, orc, cache, client.DB())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	slog.Info("rollupd started successfully",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error triggered shutdown", "error", err)
		}
	}

	// Shutdown order: stop accepting HTTP first, then drain the workers so
	// in-flight executions checkpoint before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}
	cancel()

	orc.Stop()
	slog.Info("Orchestrator stopped")

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warn("Error closing Redis client", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// resumeInterrupted requeues executions left pending or running by a
// previous process. Resumption is per tenant, so the tenants with active
// work are read straight from the executions table.
func resumeInterrupted(ctx context.Context, db *sql.DB, orc *orchestrator.Orchestrator) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM rollup_executions WHERE status IN ('pending', 'running')`)
	if err != nil {
		slog.Warn("Failed to list tenants with active executions", "error", err)
		return
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			slog.Warn("Failed to scan tenant row", "error", err)
			return
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		slog.Warn("Failed to iterate tenant rows", "error", err)
		return
	}

	for _, tenant := range tenants {
		resumed, err := orc.ResumeActive(ctx, tenant)
		if err != nil {
			slog.Warn("Failed to resume executions", "tenant_id", tenant, "error", err)
			continue
		}
		if resumed > 0 {
			slog.Info("Resumed interrupted executions", "tenant_id", tenant, "count", resumed)
		}
	}
}
