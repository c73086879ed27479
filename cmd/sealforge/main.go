package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/sealforge-erp/sealforge-erp/internal/app"
	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/observability"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/platform/cache"
	"github.com/sealforge-erp/sealforge-erp/internal/platform/db"
	"github.com/sealforge-erp/sealforge-erp/internal/reports"
	"github.com/sealforge-erp/sealforge-erp/internal/settlement"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
	"github.com/sealforge-erp/sealforge-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	locks := shared.NewLockManager(redisClient, cfg.LockTTL)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool, cfg.IdempotencyWindow)
	guard := shared.NewApprovalGuard(dbpool, logger, cfg.OpsPasswordHash)

	registry := treasury.NewRegistry()
	treasuryRepo := treasury.NewRepository(dbpool)
	treasuryService := treasury.NewService(treasuryRepo, registry, locks, auditLogger, guard, logger)
	treasuryHandler := treasury.NewHandler(logger, treasuryService)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	partiesRepo := parties.NewRepository(dbpool)
	partiesService := parties.NewService(partiesRepo, partiesRepo, locks, auditLogger, logger)
	partiesHandler := parties.NewHandler(logger, partiesService)

	invoicingRepo := invoicing.NewRepository(dbpool)
	invoicingService := invoicing.NewService(invoicingRepo, idempotencyStore, locks, auditLogger, guard, logger)
	invoicingHandler := invoicing.NewHandler(logger, invoicingService)

	settlementRepo := settlement.NewRepository(dbpool)
	settlementService := settlement.NewService(invoicingService, partiesService, settlementRepo, auditLogger, logger)
	settlementHandler := settlement.NewHandler(logger, settlementService, settlementRepo)

	reportsRepo := reports.NewRepository(dbpool)
	reportsService := reports.NewService(reportsRepo)
	reportsHandler := reports.NewHandler(reportsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		TreasuryHandler:   treasuryHandler,
		InventoryHandler:  inventoryHandler,
		PartiesHandler:    partiesHandler,
		InvoicingHandler:  invoicingHandler,
		SettlementHandler: settlementHandler,
		ReportsHandler:    reportsHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
