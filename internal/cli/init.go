// Package cli holds the start-up and shutdown steps shared by the
// transaction-service and goal-service commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spendly/internal/cache"
	"spendly/internal/config"
	"spendly/internal/log"
	"spendly/internal/storage"
)

// ShutdownTimeout bounds the graceful shutdown of a command.
const ShutdownTimeout = 30 * time.Second

// cacheSweepInterval is how often expired cache entries are evicted.
const cacheSweepInterval = 10 * time.Minute

// Bootstrap loads the optional .env file and the configuration, and
// installs the process logger. An invalid configuration exits the process.
func Bootstrap(service string) (*config.Config, *log.Logger) {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	level, levelErr := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{Level: level, Component: log.ComponentApp}).With("service", service)
	log.SetDefault(logger)
	if levelErr != nil {
		logger.Warn("Unknown log level, using info", log.FieldError, levelErr)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// OpenSQLite opens and migrates the database at path.
func OpenSQLite(logger *log.Logger, path string) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(path)
	if err != nil {
		return nil, err
	}
	logger.Info("SQLite repository ready", "path", path)
	return repo, nil
}

// NewCache builds a size-bounded TTL cache with periodic eviction and
// returns a read-through loader over it. Call stop on shutdown.
func NewCache(size int, ttl time.Duration) (loader *cache.Loader, stop func()) {
	lru := cache.NewLRUCache[any](size, ttl)
	manager := cache.NewManager()
	manager.Register(lru)
	manager.StartCleanup(cacheSweepInterval)
	return cache.NewLoader(lru), manager.Stop
}

// ShutdownContext starts the shutdown deadline.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownTimeout)
}
