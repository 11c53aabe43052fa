package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const fulfillmentKind = "fulfillment"

type FulfillmentWebhookService interface {
	Handle(ctx context.Context, body []byte) error
}

type signatureVerifier interface {
	Verify(body []byte, timestamp, signature string) error
}

// FulfillmentProvider wires one fulfillment provider's webhook endpoint.
type FulfillmentProvider struct {
	Service         FulfillmentWebhookService
	Verifier        signatureVerifier
	SignatureHeader string
	TimestampHeader string
}

type ackResponse struct {
	OK bool `json:"ok"`
}

// FulfillmentWebhook acknowledges every delivery from a known provider with
// {"ok":true}. Failed deliveries are ledgered by the service and replayed
// later, so the sender never needs to retry.
func FulfillmentWebhook(providers map[enums.FulfillmentProvider]FulfillmentProvider, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		slug := validators.ProviderSlug(chi.URLParam(r, "provider"))
		provider, err := enums.ParseFulfillmentProvider(slug)
		var handler FulfillmentProvider
		if err == nil {
			handler, err = lookupFulfillment(providers, provider)
		}
		if err != nil {
			m.Observe(fulfillmentKind, slug, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, string(provider))
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.Observe(fulfillmentKind, string(provider), metrics.OutcomeRejected)
			if logg != nil {
				logg.Error(ctx, "fulfillment.webhook.read_failed", err)
			}
			responses.WriteJSON(w, http.StatusOK, ackResponse{OK: true})
			return
		}

		if handler.Verifier != nil {
			if err := handler.Verifier.Verify(body, r.Header.Get(handler.TimestampHeader), r.Header.Get(handler.SignatureHeader)); err != nil {
				m.Observe(fulfillmentKind, string(provider), metrics.OutcomeRejected)
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "fulfillment.webhook.signature_rejected")
				}
				responses.WriteJSON(w, http.StatusOK, ackResponse{OK: true})
				return
			}
		}

		if err := handler.Service.Handle(ctx, body); err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "fulfillment.webhook.deferred")
		}
		responses.WriteJSON(w, http.StatusOK, ackResponse{OK: true})
	}
}

func lookupFulfillment(providers map[enums.FulfillmentProvider]FulfillmentProvider, provider enums.FulfillmentProvider) (FulfillmentProvider, error) {
	handler, ok := providers[provider]
	if !ok || handler.Service == nil {
		return FulfillmentProvider{}, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment provider has no webhook")
	}
	return handler, nil
}
