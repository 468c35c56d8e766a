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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pharmaledger/internal/app"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/observability"
	"github.com/odyssey-erp/pharmaledger/internal/platform/cache"
	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("pharmaledger-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	inventoryService := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool), inventory.ServiceConfig{
		Thresholds: inventory.Thresholds{
			LowStock:     cfg.InventoryLowStock,
			ReorderLevel: cfg.InventoryReorderLevel,
		},
		ScanPageSize: cfg.ScanPageSize,
	}, logger.With(slog.String("module", "inventory")))

	metrics := observability.NewMetrics()
	locker := cache.NewLocker(redisClient, cfg.JobLockTTL)

	expiryJob := &jobs.ExpiryScanJob{
		Inventory:   inventoryService,
		Locker:      locker,
		Logger:      logger,
		Metrics:     metrics.Jobs(),
		OrgIDs:      cfg.ExpiryScanOrgs,
		HorizonDays: cfg.ExpiryHorizonDays,
		Parallel:    cfg.JobOrgParallelism,
	}
	rebuildJob := &jobs.StatusRebuildJob{
		Inventory: inventoryService,
		Locker:    locker,
		Logger:    logger,
		Metrics:   metrics.Jobs(),
		OrgIDs:    cfg.ExpiryScanOrgs,
		Parallel:  cfg.JobOrgParallelism,
	}
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Keys:    shared.NewIdempotencyStore(pool),
		Logger:  logger,
		Metrics: metrics.Jobs(),
	}

	expiryTask, err := jobs.NewExpiryScanTask(jobs.ExpiryScanPayload{})
	if err != nil {
		logger.Error("build expiry scan task", slog.Any("error", err))
		os.Exit(1)
	}
	rebuildTask, err := jobs.NewStatusRebuildTask(jobs.StatusRebuildPayload{})
	if err != nil {
		logger.Error("build status rebuild task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(int(cfg.IdempotencyTTL / time.Hour))
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if len(cfg.ExpiryScanOrgs) == 0 {
		logger.Warn("EXPIRY_SCAN_ORGS empty, scheduled scans and rebuilds disabled")
	} else {
		cron = append(cron,
			jobs.CronRegistration{Spec: cfg.ExpiryScanCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			jobs.CronRegistration{Spec: cfg.StatusRebuildCron, Task: rebuildTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		)
	}
	cron = append(cron, jobs.CronRegistration{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpiryScan, Handler: expiryJob.Handle},
			{Type: jobs.TaskStatusRebuild, Handler: rebuildJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.AppAddr, Handler: metrics.Handler(), ReadTimeout: cfg.AppReadTimeout}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.AppAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
