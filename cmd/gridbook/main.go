package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridbook/internal/access"
	"gridbook/internal/amqp"
	"gridbook/internal/config"
	"gridbook/internal/grid"
	apphttp "gridbook/internal/http"
	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
	"gridbook/internal/storage"
)

// store is the persistence surface main needs: the ledger's repository plus
// the PIN lookup the access guard reads.
type store interface {
	ledger.Store
	access.PINStore
}

func main() {
	// Load .env for local development; absent in containers.
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentApp,
	})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	var (
		repo    store
		cleanup func() error = func() error { return nil }
	)
	switch cfg.DataBackend {
	case "memory":
		repo = ledger.NewMemoryStore()
		logger.Info("initialized memory backend")
	default:
		sqlRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("failed to initialize sqlite repository",
				applog.FieldError, err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		repo = sqlRepo
		cleanup = sqlRepo.Close
		logger.Info("initialized sqlite backend", "path", cfg.SQLiteDBPath)
	}
	defer cleanup()

	guard := access.NewGuard(repo, logger)

	// The mirror queue is optional; without a broker the API runs standalone
	// and entry events are simply not published.
	var publisher ledger.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("failed to initialize amqp client", applog.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
		logger.Info("amqp publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("amqp disabled, entry events will not be mirrored")
	}

	svc := ledger.NewService(repo, guard, publisher, logger)
	controller := grid.NewController(svc, cfg.DebounceInterval, logger)

	srv := apphttp.NewServer(":"+cfg.Port, svc, controller, logger, apphttp.Options{
		AnalyticsCacheSize: cfg.AnalyticsCacheSize,
		AnalyticsCacheTTL:  cfg.AnalyticsCacheTTL,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", applog.FieldError, err)
		}
		cancel()
	}()

	logger.Info("starting gridbook server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped gracefully")
}
