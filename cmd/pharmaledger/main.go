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
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/pharmaledger/internal/app"
	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/observability"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/platform/cache"
	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/jobs"
)

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("pharmaledger-api"))
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

	now := func() time.Time { return time.Now().UTC() }
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, inventory.ServiceConfig{
		Thresholds: inventory.Thresholds{
			LowStock:     cfg.InventoryLowStock,
			ReorderLevel: cfg.InventoryReorderLevel,
		},
		ScanPageSize: cfg.ScanPageSize,
		Now:          now,
	}, logger.With(slog.String("module", "inventory")))
	paymentService := payments.NewService(payments.NewRepository(dbpool), auditLogger, idempotencyStore, now,
		logger.With(slog.String("module", "payments")))
	discountService := discounts.NewService(discounts.NewRepository(dbpool), now,
		logger.With(slog.String("module", "discounts")))
	challanService := challan.NewService(challan.NewRepository(dbpool), inventoryService, auditLogger, now,
		logger.With(slog.String("module", "challan")))
	orderService := orders.NewService(orders.NewRepository(dbpool), orders.Deps{
		Inventory:   inventoryService,
		Discounts:   discountService,
		Payments:    paymentService,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Now:         now,
		Logger:      logger.With(slog.String("module", "orders")),
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Checks: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    redisPinger{client: redisClient},
		},
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		PaymentsHandler:  payments.NewHandler(logger, paymentService),
		DiscountsHandler: discounts.NewHandler(logger, discountService),
		ChallanHandler:   challan.NewHandler(logger, challanService),
		OrdersHandler:    orders.NewHandler(logger, orderService),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
