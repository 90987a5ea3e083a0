// Package main runs the asynq worker that analyses submitted items and the
// scheduler that sweeps for orphaned submissions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/racketdrop/internal/analysis"
	"github.com/dharsanguruparan/racketdrop/internal/config"
	"github.com/dharsanguruparan/racketdrop/internal/database"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
	"github.com/dharsanguruparan/racketdrop/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return err
		}
	}
	repo := repository.NewPostgres(pool)

	engine := analysis.NewHTTPClient(cfg.Analysis.URL, cfg.Analysis.Timeout)
	processor := worker.NewProcessor(repo, engine,
		worker.WithOrphanThreshold(cfg.Worker.OrphanThreshold),
		worker.WithLogger(logger.With("component", "worker")),
	)

	redisOpt := queue.RedisOpt(cfg.Redis)
	server := queue.NewServer(redisOpt, cfg.Queue, cfg.Worker.Concurrency, logger)
	scheduler, err := queue.NewScheduler(redisOpt, cfg.Queue, cfg.Worker.OrphanSweepSpec, logger)
	if err != nil {
		return err
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	if err := server.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	slog.Info("worker started",
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency,
		"orphan_sweep", cfg.Worker.OrphanSweepSpec,
	)

	<-ctx.Done()
	server.Shutdown()
	slog.Info("worker stopped")
	return nil
}
