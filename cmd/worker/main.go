package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/guardpost/guardpost/internal/app"
	"github.com/guardpost/guardpost/internal/audit"
	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/permcache"
	"github.com/guardpost/guardpost/internal/platform/cache"
	"github.com/guardpost/guardpost/internal/platform/db"
	"github.com/guardpost/guardpost/internal/resolver"
	"github.com/guardpost/guardpost/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	grantsRepo := grants.NewRepository(pool)
	res := resolver.New(grantsRepo, catalogRepo)
	permCache, err := permcache.New(res, grantsRepo, redisClient, permcache.Options{
		TTL:       cfg.CacheTTL,
		LocalSize: cfg.CacheLocalSize,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("init permission cache", slog.Any("error", err))
		os.Exit(1)
	}

	auditService := audit.NewService(audit.NewRepository(pool), logger)

	warmJob := jobs.NewCacheWarmJob(permCache, pool, logger, nil)
	pruneJob := jobs.NewAuditPruneJob(auditService, cfg.AuditRetention, logger, nil)

	warmTask, err := jobs.NewCacheWarmTask(jobs.CacheWarmPayload{})
	if err != nil {
		logger.Error("build warm task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewAuditPruneTask(jobs.AuditPrunePayload{})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarm, Handler: warmJob.Handle},
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
