package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const trackingKind = "tracking"

type TrackingWebhookService interface {
	RecordTrackingEvent(ctx context.Context, provider, orderNumber string, update normalize.TrackingUpdate) (shipments.Result, error)
}

type TrackingResponse struct {
	Success        bool       `json:"success"`
	OrderID        uuid.UUID  `json:"order_id"`
	OrderStatus    string     `json:"order_status"`
	OrderItemID    *uuid.UUID `json:"order_item_id,omitempty"`
	ShipmentID     *uuid.UUID `json:"shipment_id,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	OrderFulfilled bool       `json:"order_fulfilled"`
}

// TrackingWebhook records carrier checkpoints. When secret is empty the
// signature header is not required.
func TrackingWebhook(svc TrackingWebhookService, secret string, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tracking service unavailable"))
			return
		}

		provider := validators.ProviderSlug(chi.URLParam(r, "provider"))
		if provider == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "provider is required"))
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, provider)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.Observe(trackingKind, provider, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "read request body"))
			return
		}

		if secret != "" && !validHMAC(body, r.Header.Get(SignatureHeader), secret) {
			m.Observe(trackingKind, provider, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var payload normalize.TrackingPayload
		if err := validators.DecodeWebhookBody(body, &payload); err != nil {
			m.Observe(trackingKind, provider, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		update, err := normalize.Tracking(payload)
		if err != nil {
			m.Observe(trackingKind, provider, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithOrderNumber(ctx, payload.OrderNumber)
		}

		result, err := svc.RecordTrackingEvent(ctx, provider, payload.OrderNumber, update)
		if err != nil {
			m.Observe(trackingKind, provider, metrics.OutcomeFailure)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		m.Observe(trackingKind, provider, metrics.OutcomeSuccess)
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"shipped":         result.Shipped,
				"delivered":       result.Delivered,
				"order_fulfilled": result.OrderFulfilled,
			}), "tracking.webhook.processed")
		}
		responses.WriteJSON(w, http.StatusOK, newTrackingResponse(result))
	}
}

func newTrackingResponse(result shipments.Result) TrackingResponse {
	resp := TrackingResponse{Success: true, OrderFulfilled: result.OrderFulfilled}
	if result.Order != nil {
		resp.OrderID = result.Order.ID
		resp.OrderStatus = string(result.Order.Status)
	}
	if result.Item != nil {
		id := result.Item.ID
		resp.OrderItemID = &id
	}
	if result.Shipment != nil {
		id := result.Shipment.ID
		resp.ShipmentID = &id
		resp.TrackingNumber = result.Shipment.TrackingNumber
		resp.ShippedAt = result.Shipment.ShippedAt
		resp.DeliveredAt = result.Shipment.DeliveredAt
	}
	return resp
}
