// Package main is the entrypoint for the racketdrop HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/racketdrop/internal/analysis"
	"github.com/dharsanguruparan/racketdrop/internal/api"
	"github.com/dharsanguruparan/racketdrop/internal/api/handler"
	mw "github.com/dharsanguruparan/racketdrop/internal/api/middleware"
	"github.com/dharsanguruparan/racketdrop/internal/cache"
	"github.com/dharsanguruparan/racketdrop/internal/config"
	"github.com/dharsanguruparan/racketdrop/internal/database"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
	"github.com/dharsanguruparan/racketdrop/internal/status"
	"github.com/dharsanguruparan/racketdrop/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("database connected")

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		slog.Info("database migrations applied")
	}
	repo := repository.NewPostgres(pool)

	redisCache := cache.NewRedisCache(cfg.Redis)
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	store, err := s3storage.New(cfg.Storage)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var producer queue.Producer
	if cfg.Worker.Inline {
		mem := queue.NewMemory(cfg.Worker.Concurrency)
		engine := analysis.NewHTTPClient(cfg.Analysis.URL, cfg.Analysis.Timeout)
		processor := worker.NewProcessor(repo, engine,
			worker.WithOrphanThreshold(cfg.Worker.OrphanThreshold),
			worker.WithLogger(logger.With("component", "worker")),
		)
		g.Go(func() error {
			if err := mem.Consume(ctx, processor.Handle); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		producer = mem
		slog.Info("inline worker enabled", "concurrency", cfg.Worker.Concurrency)
	} else {
		broker := queue.NewBroker(queue.RedisOpt(cfg.Redis), cfg.Queue)
		defer broker.Close()
		producer = broker
	}

	intakeSvc := intake.NewService(repo, producer,
		intake.WithMediaChecker(store),
		intake.WithLogger(logger.With("component", "intake")),
	)
	statusSvc := status.NewService(repo)
	limits := handler.UploadLimits{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
	}

	deps := api.Dependencies{
		Items: handler.NewItemHandler(intakeSvc, statusSvc, store, limits),
		Media: handler.NewMediaHandler(store),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": repo,
			"redis":    redisCache,
			"storage":  store,
		}),
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		deps.RateLimit = mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute)
	}

	srv := api.NewServer(cfg.Server.Address, api.NewRouter(deps), cfg.Server.ShutdownTimeout)
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("api stopped")
	return nil
}
