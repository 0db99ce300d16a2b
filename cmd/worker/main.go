package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/app"
	jobmetrics "github.com/AshAI-Sys/ashley-ai-sub015/internal/jobs"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/cache"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/db"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/shared"
	"github.com/AshAI-Sys/ashley-ai-sub015/jobs"
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

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	idempotency := shared.NewIdempotencyStore(pool)
	mrpCfg := cfg.MRP()
	service := mrp.NewService(mrp.NewRepository(pool), mrpCfg, mrp.Dependencies{
		Cache:       mrp.NewPlanCache(redisClient, cfg.PlanCacheTTL),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: idempotency,
		Metrics:     metrics,
		Logger:      logger,
	})

	refreshJob := jobs.NewPlanRefreshJob(service, logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{Keys: idempotency, Logger: logger, Metrics: metrics}

	var cron []jobs.CronRegistration
	for _, workspaceID := range cfg.RefreshWorkspaces {
		task, err := jobs.NewPlanRefreshTask(workspaceID)
		if err != nil {
			logger.Error("build plan refresh task", slog.String("workspace_id", workspaceID), slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.RefreshCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	cron = append(cron, jobs.CronRegistration{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Queue(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    mrpCfg.Location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPlanRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("refresh_workspaces", len(cfg.RefreshWorkspaces)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
