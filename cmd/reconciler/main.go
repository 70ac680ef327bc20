package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/internal/plans"
	"github.com/shopraq/shopraq-backend/internal/reconcile"
	"github.com/shopraq/shopraq-backend/internal/stores"
	"github.com/shopraq/shopraq-backend/internal/subscriptions"
	"github.com/shopraq/shopraq-backend/pkg/config"
	"github.com/shopraq/shopraq-backend/pkg/db"
	"github.com/shopraq/shopraq-backend/pkg/logger"
	"github.com/shopraq/shopraq-backend/pkg/metrics"
	"github.com/shopraq/shopraq-backend/pkg/migrate"
	"github.com/shopraq/shopraq-backend/pkg/paygate"
	"github.com/shopraq/shopraq-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "reconciler"

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := paygate.NewClient(cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	storeRepo := stores.NewRepository(dbClient.DB())
	planRepo := plans.NewRepository(dbClient.DB())
	historyRepo := subscriptions.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		StoreRepo:   storeRepo,
		PlanRepo:    planRepo,
		HistoryRepo: historyRepo,
		Logger:      logg,
		TrialDays:   cfg.Subscription.TrialDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledgerRepo,
		Config: cfg.Subscription,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Ledger:   ledgerService,
		Subs:     subscriptionService,
		Stores:   storeRepo,
		Plans:    planRepo,
		Gateway:  gateway,
		Snapshot: redisClient,
		Metrics:  metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
		Config:   cfg.Reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting payment reconciler")

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "payment reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "payment reconciler shutting down gracefully")
}
