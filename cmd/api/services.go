package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	cjwebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

const cjWebhookScope = "cj-webhook"

type services struct {
	payments            payments.Service
	verifier            controllers.PaymentVerifier
	shipments           shipments.Service
	fulfillmentWebhooks map[enums.FulfillmentProvider]webhookcontrollers.FulfillmentProvider
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, webhookMetrics *metrics.WebhookMetrics, providerMetrics *metrics.ProviderMetrics) (*services, error) {
	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	ordersService, err := orders.NewService(orders.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	paymentsService, err := payments.NewService(payments.ServiceParams{
		Tx:       dbClient,
		Ledger:   ledgerService,
		Payments: payments.NewRepository(conn),
		Orders:   ordersService,
		Outbox:   outboxService,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	shipmentsService, err := shipments.NewService(shipments.ServiceParams{
		Tx:        dbClient,
		Shipments: shipments.NewRepository(conn),
		Orders:    ordersService,
		Outbox:    outboxService,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("shipments service: %w", err)
	}

	out := &services{
		payments:  paymentsService,
		shipments: shipmentsService,
	}

	korapayClient, err := korapay.NewClient(cfg.Korapay, korapay.WithMetrics(providerMetrics))
	if err != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "korapay client disabled; payment verification unavailable")
	} else {
		verifier, err := payments.NewVerifier(paymentsService, korapayClient)
		if err != nil {
			return nil, fmt.Errorf("payment verifier: %w", err)
		}
		out.verifier = verifier
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, cjWebhookScope)
	if err != nil {
		return nil, fmt.Errorf("cj webhook guard: %w", err)
	}
	cjService, err := cjwebhook.NewService(cjwebhook.ServiceParams{
		Tx:          dbClient,
		Events:      cjwebhook.NewRepository(conn),
		Jobs:        fulfillment.NewRepository(conn),
		Orders:      ordersService,
		Shipments:   shipmentsService,
		Outbox:      outboxService,
		Guard:       guard,
		Metrics:     webhookMetrics,
		Logger:      logg,
		MaxAttempts: cfg.Cron.ReplayMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("cj webhook service: %w", err)
	}
	out.fulfillmentWebhooks = map[enums.FulfillmentProvider]webhookcontrollers.FulfillmentProvider{
		enums.FulfillmentProviderCJ: {
			Service:         cjService,
			Verifier:        cjwebhook.Verifier{Secret: cfg.CJ.WebhookSecret, Window: cfg.CJ.ReplayWindow},
			SignatureHeader: cjwebhook.SignatureHeader,
			TimestampHeader: cjwebhook.TimestampHeader,
		},
	}
	return out, nil
}
