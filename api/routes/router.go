package routes

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

// Dependencies are the services the HTTP surface dispatches to.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis controllers.Pinger

	Payments        webhookcontrollers.PaymentWebhookService
	PaymentVerifier controllers.PaymentVerifier
	Fulfillment     map[enums.FulfillmentProvider]webhookcontrollers.FulfillmentProvider
	Tracking        webhookcontrollers.TrackingWebhookService

	WebhookMetrics *metrics.WebhookMetrics
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing(acceptedWebhooks(deps)))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BodyLimit(cfg.App.MaxBodyBytes))

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/payments/{provider}", webhookcontrollers.PaymentWebhook(deps.Payments, paymentSecrets(cfg), deps.WebhookMetrics, logg))
			r.Post("/fulfillment/{provider}", webhookcontrollers.FulfillmentWebhook(deps.Fulfillment, deps.WebhookMetrics, logg))
			r.Post("/tracking/{provider}", webhookcontrollers.TrackingWebhook(deps.Tracking, cfg.Tracking.WebhookSecret, deps.WebhookMetrics, logg))
		})

		r.Post("/payments/{provider}/{reference}/verify", controllers.VerifyPayment(deps.PaymentVerifier, logg))
	})

	return r
}

func paymentSecrets(cfg *config.Config) map[enums.PaymentProvider]string {
	return map[enums.PaymentProvider]string{
		enums.PaymentProviderKorapay: cfg.Korapay.SigningSecret(),
		enums.PaymentProviderGeneric: cfg.Payments.WebhookSecret,
	}
}

// acceptedWebhooks lists providers with a configured secret or strategy.
func acceptedWebhooks(deps Dependencies) map[string][]string {
	out := map[string][]string{}
	for provider, secret := range paymentSecrets(deps.Config) {
		if secret != "" {
			out["payments"] = append(out["payments"], string(provider))
		}
	}
	for provider := range deps.Fulfillment {
		out["fulfillment"] = append(out["fulfillment"], string(provider))
	}
	if deps.Tracking != nil && deps.Config.Tracking.WebhookSecret != "" {
		out["tracking"] = []string{"*"}
	}
	for _, names := range out {
		slices.Sort(names)
	}
	return out
}
