package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const paymentKind = "payment"

type PaymentWebhookService interface {
	HandleProviderEvent(ctx context.Context, provider enums.PaymentProvider, eventID string, event normalize.PaymentEvent) (payments.Result, error)
}

// PaymentResponse is the acknowledgement returned to payment providers and
// to verify callers.
type PaymentResponse struct {
	Success       bool       `json:"success"`
	Duplicate     bool       `json:"duplicate,omitempty"`
	Ignored       bool       `json:"ignored,omitempty"`
	PaymentID     *uuid.UUID `json:"payment_id,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	OrderStatus   string     `json:"order_status,omitempty"`
}

// NewPaymentResponse flattens a reconciliation result.
func NewPaymentResponse(result payments.Result) PaymentResponse {
	resp := PaymentResponse{Success: true, Duplicate: result.Duplicate}
	if result.Payment != nil {
		id := result.Payment.ID
		resp.PaymentID = &id
		resp.PaymentStatus = string(result.Payment.Status)
	}
	if result.Order != nil {
		id := result.Order.ID
		resp.OrderID = &id
		resp.OrderStatus = string(result.Order.Status)
	}
	return resp
}

// PaymentWebhook verifies, normalizes and reconciles payment provider
// notifications. secrets maps each provider to its signing secret; a provider
// without a secret is rejected.
func PaymentWebhook(svc PaymentWebhookService, secrets map[enums.PaymentProvider]string, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		slug := validators.ProviderSlug(chi.URLParam(r, "provider"))
		provider, err := enums.ParsePaymentProvider(slug)
		if err != nil {
			m.Observe(paymentKind, slug, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider"))
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, string(provider))
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.Observe(paymentKind, string(provider), metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "read request body"))
			return
		}

		if !verifyPaymentSignature(provider, r.Header, body, secrets[provider]) {
			m.Observe(paymentKind, string(provider), metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		event, err := normalize.Payment(provider, body)
		if errors.Is(err, normalize.ErrUnsupportedEvent) {
			m.Observe(paymentKind, string(provider), metrics.OutcomeIgnored)
			if logg != nil {
				logg.Info(ctx, "payment.webhook.ignored")
			}
			responses.WriteJSON(w, http.StatusOK, PaymentResponse{Success: true, Ignored: true})
			return
		}
		if err != nil {
			m.Observe(paymentKind, string(provider), metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEventID(ctx, event.EventID)
			ctx = logg.WithOrderNumber(ctx, event.OrderNumber)
		}

		result, err := svc.HandleProviderEvent(ctx, provider, event.EventID, event)
		if err != nil {
			m.Observe(paymentKind, string(provider), metrics.OutcomeFailure)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome := metrics.OutcomeSuccess
		if result.Duplicate {
			outcome = metrics.OutcomeDuplicate
		}
		m.Observe(paymentKind, string(provider), outcome)
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"duplicate":   result.Duplicate,
				"became_paid": result.BecamePaid,
			}), "payment.webhook.processed")
		}
		responses.WriteJSON(w, http.StatusOK, NewPaymentResponse(result))
	}
}

func verifyPaymentSignature(provider enums.PaymentProvider, header http.Header, body []byte, secret string) bool {
	if provider == enums.PaymentProviderKorapay {
		return korapay.VerifySignature(body, header.Get(korapay.SignatureHeader), secret)
	}
	return validHMAC(body, header.Get(SignatureHeader), secret)
}
