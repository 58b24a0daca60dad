package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/workshop/internal/app"
	jobmetrics "github.com/odyssey-erp/workshop/internal/jobs"
	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/observability"
	"github.com/odyssey-erp/workshop/internal/platform/cache"
	"github.com/odyssey-erp/workshop/internal/platform/db"
	"github.com/odyssey-erp/workshop/internal/procurement"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
	"github.com/odyssey-erp/workshop/jobs"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	ledgerMetrics := observability.NewLedgerMetrics(nil)
	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)
	signalProjection := reorder.NewSignal(redisClient, jobClient, logger)

	stockLedger := ledger.NewLedger(ledger.NewRepository(pool), auditLogger, signalProjection, ledgerMetrics, logger, ledger.Config{
		MaxRetries:   cfg.LedgerMaxRetries,
		RetryBackoff: cfg.LedgerRetryBackoff,
	})
	reorderService := reorder.NewService(reorder.NewRepository(pool), signalProjection, logger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), stockLedger, auditLogger, logger)

	partsRequestJob := jobs.NewPartsRequestJob(reorderService, procurementService, logger, metrics)
	reconcileJob := jobs.NewReconcileJob(stockLedger, reorderService, logger, metrics)
	receiptJob := jobs.NewReceiptJob(procurementService, logger, metrics)
	cleanupJob := jobs.NewCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	cleanupTask, err := jobs.NewCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReorderPartsRequest, Handler: partsRequestJob.Handle},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskProcurementReceive, Handler: receiptJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: jobs.NewReconcileTask()},
			{Spec: "30 3 * * *", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
