/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the station ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and configuration
  2. Build the zap logger
  3. Open the document store selected by storage.driver
  4. Create settlement service and API handler
  5. Start the document expiry scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  CONFIG_PATH points at a YAML file; every key can be overridden through
  LEDGER_* environment variables (see config/config.go). Without CONFIG_PATH
  configuration comes from the environment alone.

STORAGE DRIVERS:
  memory  In-process, lost on restart
  sqlite  storage.sqlite_path (":memory:" allowed)
  redis   storage.redis.*; compliance documents stay in memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry scheduler
  4. Close the store
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: SQLite implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/station-ledger/api"
	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/billing/store"
	"github.com/warp/station-ledger/compliance"
	"github.com/warp/station-ledger/config"
	"github.com/warp/station-ledger/logging"
	"github.com/warp/station-ledger/metrics"
	"github.com/warp/station-ledger/settlement"
	redisstore "github.com/warp/station-ledger/store/redis"
	"github.com/warp/station-ledger/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg := config.MustLoad()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Amounts go out as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true

	ledgerStore, docs, closer, err := openStore(context.Background(), cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer closer.Close()

	m := metrics.New()
	svc := settlement.NewService(ledgerStore, logger.Named("settlement"), m)

	handler := api.NewHandler(svc, docs, logger.Named("api"), m)
	handler.ExpiringWindowDays = cfg.Compliance.ExpiringWindowDays
	handler.ScenariosEnabled = cfg.HTTP.EnableScenarios

	scheduler := compliance.NewExpiryScheduler(docs, logger.Named("compliance"), m)
	scheduler.CheckInterval = cfg.Compliance.ScanInterval
	scheduler.WindowDays = cfg.Compliance.ExpiringWindowDays
	scheduler.Enabled = cfg.Compliance.ScanEnabled
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, cfg.HTTP.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("address", cfg.HTTP.Address),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// openStore returns the ledger store, the document store and what to close
// on shutdown.
func openStore(ctx context.Context, cfg config.Storage) (billing.Store, compliance.Store, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), compliance.NewMemoryStore(), io.NopCloser(nil), nil

	case "sqlite":
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil

	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		defer cancel()
		s, err := redisstore.New(dialCtx, redisstore.Options{
			Addr:        cfg.Redis.Address,
			Username:    cfg.Redis.User,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout,
			Timeout:     cfg.Redis.Timeout,
			KeyPrefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return s, compliance.NewMemoryStore(), s, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
