package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopraq/shopraq-backend/internal/cron"
	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/internal/plans"
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

const lockKeyFormat = "shopraq:cron:%s:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	expiryJob, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:    logg,
		StoreRepo: storeRepo,
		Subs:      subscriptionService,
		Interval:  cfg.Cron.ExpirySweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	autoRenewJob, err := cron.NewAutoRenewJob(cron.AutoRenewJobParams{
		Logger:    logg,
		StoreRepo: storeRepo,
		Subs:      subscriptionService,
		Ledger:    ledgerService,
		Gateway:   gateway,
		Interval:  cfg.Cron.AutoRenewInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auto renew job", err)
		os.Exit(1)
	}

	cleanupJob, err := cron.NewPaymentCleanupJob(cron.PaymentCleanupJobParams{
		Logger:   logg,
		Ledger:   ledgerService,
		Interval: cfg.Cron.CleanupInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment cleanup job", err)
		os.Exit(1)
	}

	expiringSoonJob, err := cron.NewExpiringSoonJob(cron.ExpiringSoonJobParams{
		Logger:    logg,
		StoreRepo: storeRepo,
		History:   subscriptionService,
		Window:    cfg.Subscription.ExpiryWarningWindow,
		Interval:  cfg.Cron.ExpiringSoonInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiring soon job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(expiryJob, autoRenewJob, cleanupJob, expiringSoonJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		LockFactory: func(jobName string, ttl time.Duration) (cron.Lock, error) {
			return cron.NewRedisLock(redisClient, lockKey(cfg.App.Env, jobName), ttl)
		},
		Metrics: metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env, jobName string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env, jobName)
}
