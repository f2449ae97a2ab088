/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the accident engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (YAML file, then ACCIDENT_ENGINE_* env, then flags)
  2. Open the store (SQLite or PostgreSQL)
  3. Pick the summary cache backend (memory or Redis)
  4. Build allocator, aggregator and cache
  5. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  YAML config path (default: accident-engine.yaml, optional)
  -port    HTTP server port, overrides server.addr
  -db      SQLite database path, overrides database.dsn
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close store and Redis connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/accidents.db"

  # Run against PostgreSQL with a shared Redis cache
  ACCIDENT_ENGINE_DB_DRIVER=postgres \
  ACCIDENT_ENGINE_DB_DSN=postgres://localhost/accidents?sslmode=disable \
  ACCIDENT_ENGINE_REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/accident-engine/api"
	"github.com/warp/accident-engine/config"
	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/logging"
	"github.com/warp/accident-engine/metrics"
	"github.com/warp/accident-engine/sequence"
	"github.com/warp/accident-engine/store/postgres"
	"github.com/warp/accident-engine/store/rediscache"
	"github.com/warp/accident-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "accident-engine.yaml", "YAML config path")
	port := flag.Int("port", 0, "HTTP server port (overrides server.addr)")
	dbPath := flag.String("db", "", "SQLite database path (overrides database.dsn)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if *port != 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)
	throttled := logging.NewThrottled(logger, logging.WithWindow(cfg.Log.ThrottleWindow))

	ctx := context.Background()

	// Initialize store
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	backend, backendCloser, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize cache backend: %v", err)
	}
	defer backendCloser.Close()

	m := metrics.New()
	alloc, err := sequence.NewAllocator(store, sequence.WithLogger(throttled), sequence.WithRecorder(m))
	if err != nil {
		log.Fatalf("Failed to create allocator: %v", err)
	}
	agg := lagging.NewAggregator(store, store,
		lagging.WithDefaultConstant(cfg.Lagging.DefaultConstant),
		lagging.WithAggregatorLogger(throttled),
		lagging.WithBuildRecorder(m),
	)
	cache := lagging.NewCache(agg,
		lagging.WithTTL(cfg.Cache.TTL),
		lagging.WithBackend(backend),
		lagging.WithAllowedConstants(cfg.Lagging.AllowedConstants),
		lagging.WithExactRecount(cfg.Lagging.ExactRecount),
		lagging.WithCacheLogger(throttled),
		lagging.WithCacheRecorder(m),
	)

	handler := api.NewHandler(store, alloc, cache,
		api.WithHandlerLogger(logger),
		api.WithRefreshOnWrite(cfg.Cache.RefreshOnWrite),
	)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr,
			"db_driver", cfg.Database.Driver, "cache_backend", cfg.Cache.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// engineStore is what the server needs from either database.
type engineStore interface {
	api.Store
	Close() error
}

func openStore(ctx context.Context, db config.DatabaseConfig) (engineStore, error) {
	if db.Driver == "postgres" {
		s, err := postgres.Open(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := sqlite.New(db.DSN)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openBackend(ctx context.Context, cfg *config.Config) (lagging.Backend, io.Closer, error) {
	if cfg.Cache.Backend != "redis" {
		return lagging.NewMemoryBackend(), nopCloser{}, nil
	}
	client, err := rediscache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	return rediscache.New(client), client, nil
}
