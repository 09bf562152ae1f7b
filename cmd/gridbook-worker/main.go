package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"gridbook/internal/access"
	"gridbook/internal/amqp"
	"gridbook/internal/config"
	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
	"gridbook/internal/mirror/google"
	"gridbook/internal/storage"
	"gridbook/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("starting gridbook-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("failed to initialize sqlite repository",
			applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	guard := access.NewGuard(repo, logger)
	svc := ledger.NewService(repo, guard, nil, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The mirror side is optional; without a spreadsheet the worker only
	// runs the scheduled dedup sweep.
	var mirrorWorker *worker.MirrorWorker
	if cfg.GoogleSpreadsheetID != "" {
		mir, err := google.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			logger.Error("failed to initialize google sheets mirror", applog.FieldError, err)
			os.Exit(1)
		}
		mirrorWorker = worker.NewMirrorWorker(mir, logger)
		logger.Info("google sheets mirror initialized",
			"spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		logger.Info("google sheets mirror disabled, no GOOGLE_SPREADSHEET_ID provided")
	}

	scheduler, err := worker.NewSweepScheduler(cfg.DedupSweepSchedule, svc, logger)
	if err != nil {
		logger.Error("failed to initialize sweep scheduler", applog.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	if mirrorWorker != nil {
		if cfg.AMQPURL == "" {
			logger.Error("mirror enabled but AMQP_URL is empty")
			os.Exit(1)
		}
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("failed to initialize amqp client", applog.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			err := client.ConsumeEntryEvents(gctx, func(ev ledger.EntryEvent) error {
				return mirrorWorker.HandleEntryEvent(gctx, ev)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("skipping amqp consumption, no mirror available")
	}

	scheduler.Start()
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	logger.Info("gridbook-worker running", "sweep_schedule", cfg.DedupSweepSchedule)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("worker stopped gracefully")
}
