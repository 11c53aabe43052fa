package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/cron"
	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	cjwebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/providerauth"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      logger.ParseFormat(cfg.App.LogFormat),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	providerMetrics := metrics.NewProviderMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	requireResource(ctx, logg, "cron lock", err)

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxService := outbox.NewService(outboxRepo, logg)

	ordersService, err := orders.NewService(orders.NewRepository(conn))
	requireResource(ctx, logg, "orders service", err)
	shipmentsService, err := shipments.NewService(shipments.ServiceParams{
		Tx:        dbClient,
		Shipments: shipments.NewRepository(conn),
		Orders:    ordersService,
		Outbox:    outboxService,
		Logger:    logg,
	})
	requireResource(ctx, logg, "shipments service", err)

	cjWebhooks, err := cjwebhook.NewService(cjwebhook.ServiceParams{
		Tx:          dbClient,
		Events:      cjwebhook.NewRepository(conn),
		Jobs:        fulfillment.NewRepository(conn),
		Orders:      ordersService,
		Shipments:   shipmentsService,
		Outbox:      outboxService,
		Metrics:     webhookMetrics,
		Logger:      logg,
		MaxAttempts: cfg.Cron.ReplayMaxAttempts,
	})
	requireResource(ctx, logg, "cj webhook service", err)

	replayJob, err := cron.NewWebhookReplayJob(cron.WebhookReplayJobParams{
		Logger:    logg,
		Replayer:  cjWebhooks,
		BatchSize: cfg.Cron.ReplayBatchSize,
	})
	requireResource(ctx, logg, "webhook replay job", err)

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Cron.OutboxRetention,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	notificationCleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(conn),
	})
	requireResource(ctx, logg, "notification cleanup job", err)

	jobs := []cron.Job{replayJob, outboxRetentionJob, notificationCleanupJob}

	if cfg.CJ.Enabled() {
		tokenStore, err := providerauth.NewRedisTokenStore(redisClient)
		requireResource(ctx, logg, "provider token store", err)
		cjClient, err := cj.NewClient(cj.ClientParams{
			Config:  cfg.CJ,
			Store:   tokenStore,
			Logger:  logg,
			Metrics: providerMetrics,
		})
		requireResource(ctx, logg, "cj client", err)
		tokenJob, err := cron.NewTokenRefreshJob(cron.TokenRefreshJobParams{
			Logger:     logg,
			Refreshers: map[string]cron.TokenRefresher{cj.ProviderName: cjClient},
		})
		requireResource(ctx, logg, "token refresh job", err)
		jobs = append(jobs, tokenJob)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(jobs),
	})
	logg.Info(runCtx, "starting cron worker")

	metricsServer := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, logg)
	if err := metricsServer.RunAlongside(runCtx, service.Run); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
