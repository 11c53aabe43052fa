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

	"github.com/angelmondragon/orderflow-backend/internal/compensation"
	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/internal/fulfillment/cjdropship"
	"github.com/angelmondragon/orderflow-backend/internal/fulfillment/manual"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	"github.com/angelmondragon/orderflow-backend/pkg/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/providerauth"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	providerMetrics := metrics.NewProviderMetrics(prometheus.DefaultRegisterer)
	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)
	err = manager.Consumers(fulfillment.ConsumerName, notifications.ConsumerName)
	requireResource(ctx, logg, "idempotency consumers", err)

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxService := outbox.NewService(outboxRepo, logg)
	jobs := fulfillment.NewRepository(conn)

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

	strategies := []fulfillment.Strategy{manual.New()}
	var settler compensation.Settler
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
		cjStrategy, err := cjdropship.New(cjClient, cfg.CJ)
		requireResource(ctx, logg, "cj strategy", err)
		strategies = append(strategies, cjStrategy)
		settler = cjClient
	} else {
		logg.Warn(ctx, "cj credentials missing; cj dispatch disabled")
	}

	registry, err := fulfillment.NewRegistry(strategies...)
	requireResource(ctx, logg, "strategy registry", err)

	coordinator, err := fulfillment.NewCoordinator(fulfillment.CoordinatorParams{
		Tx:          dbClient,
		Jobs:        jobs,
		Orders:      ordersService,
		Shipments:   shipmentsService,
		Outbox:      outboxService,
		Strategies:  registry,
		Logger:      logg,
		Concurrency: cfg.Fulfillment.DispatchConcurrency,
		Timeout:     cfg.Fulfillment.DispatchTimeout,
		AutoRefund:  cfg.FeatureFlags.AutoRefund,
	})
	requireResource(ctx, logg, "fulfillment coordinator", err)

	var refunder compensation.Refunder
	if korapayClient, err := korapay.NewClient(cfg.Korapay, korapay.WithMetrics(providerMetrics)); err == nil {
		refunder = korapayClient
	} else {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "korapay client disabled; refunds will be recorded as skipped")
	}

	compensator, err := compensation.NewService(compensation.ServiceParams{
		Tx:       dbClient,
		Payments: payments.NewRepository(conn),
		Orders:   ordersService,
		Jobs:     jobs,
		Outbox:   outboxService,
		Refunder: refunder,
		Settler:  settler,
		Logger:   logg,
	})
	requireResource(ctx, logg, "compensation service", err)

	fulfillmentConsumer, err := fulfillment.NewConsumer(coordinator, compensator, pubsubClient.FulfillmentSubscription(), manager, logg)
	requireResource(ctx, logg, "fulfillment consumer", err)

	notificationsService, err := notifications.NewService(notifications.NewRepository(conn))
	requireResource(ctx, logg, "notifications service", err)
	notificationConsumer, err := notifications.NewConsumer(notificationsService, pubsubClient.NotificationSubscription(), manager, logg)
	requireResource(ctx, logg, "notification consumer", err)

	service, err := NewService(ServiceParams{
		Config:               cfg,
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		FulfillmentConsumer:  fulfillmentConsumer,
		NotificationConsumer: notificationConsumer,
		MetricsServer:        metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, logg),
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"strategies":  len(strategies),
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
