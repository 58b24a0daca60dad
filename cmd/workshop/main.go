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

	"github.com/odyssey-erp/workshop/internal/app"
	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/observability"
	"github.com/odyssey-erp/workshop/internal/parts"
	"github.com/odyssey-erp/workshop/internal/platform/cache"
	"github.com/odyssey-erp/workshop/internal/platform/db"
	"github.com/odyssey-erp/workshop/internal/procurement"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
	"github.com/odyssey-erp/workshop/internal/stock"
	"github.com/odyssey-erp/workshop/internal/stocktake"
	"github.com/odyssey-erp/workshop/internal/workorders"
	"github.com/odyssey-erp/workshop/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	signalProjection := reorder.NewSignal(redisClient, jobClient, logger)

	stockLedger := ledger.NewLedger(ledger.NewRepository(pool), auditLogger, signalProjection, metrics.Ledger(), logger, ledger.Config{
		MaxRetries:   cfg.LedgerMaxRetries,
		RetryBackoff: cfg.LedgerRetryBackoff,
	})

	partService := parts.NewService(parts.NewRepository(pool), parts.Config{
		MaxDistance:    cfg.FuzzyMaxDistance,
		MaxSuggestions: cfg.FuzzyMaxSuggestions,
	})
	workOrderService := workorders.NewService(workorders.NewRepository(pool), stockLedger, auditLogger, logger)
	stockService := stock.NewService(stockLedger, partService, workOrderService)
	stocktakeService := stocktake.NewService(stocktake.NewStore(redisClient, cfg.StocktakeSessionTTL), stockLedger, partService, logger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), stockLedger, auditLogger, logger)
	reorderService := reorder.NewService(reorder.NewRepository(pool), signalProjection, logger)

	if _, err := reorderService.RebuildProjection(ctx); err != nil {
		logger.Warn("rebuild low-stock projection", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PartsHandler:       parts.NewHandler(logger, partService, stockLedger),
		StockHandler:       stock.NewHandler(logger, stockService),
		StocktakeHandler:   stocktake.NewHandler(logger, stocktakeService),
		WorkOrderHandler:   workorders.NewHandler(logger, workOrderService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, jobClient),
		ReorderHandler:     reorder.NewHandler(logger, reorderService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
