package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrackingPayload is the carrier webhook body accepted on
// /webhooks/tracking/{provider}.
type TrackingPayload struct {
	OrderNumber     string                 `json:"order_number" validate:"required"`
	OrderItemID     string                 `json:"order_item_id" validate:"omitempty,uuid"`
	TrackingNumber  string                 `json:"tracking_number" validate:"max=128"`
	Carrier         string                 `json:"carrier" validate:"max=128"`
	TrackingURL     string                 `json:"tracking_url" validate:"omitempty,url"`
	Status          string                 `json:"status"`
	ShippedAt       string                 `json:"shipped_at"`
	DeliveredAt     string                 `json:"delivered_at"`
	PostageAmount   json.RawMessage        `json:"postage_amount"`
	PostageCurrency string                 `json:"postage_currency" validate:"omitempty,len=3"`
	Events          []TrackingEventPayload `json:"events" validate:"dive"`
}

// TrackingEventPayload is one raw carrier checkpoint.
type TrackingEventPayload struct {
	StatusCode  string `json:"status_code"`
	OccurredAt  string `json:"occurred_at"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// TrackingUpdate is the canonical tracking notification, shared by carrier
// webhooks and fulfillment-provider logistic updates.
type TrackingUpdate struct {
	OrderItemID     *uuid.UUID
	TrackingNumber  string
	Carrier         string
	TrackingURL     string
	Status          string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	PostageAmount   *decimal.Decimal
	PostageCurrency string
	Events          []TrackingEvent
}

// TrackingEvent is a checkpoint as the provider reported it. StatusCode or
// OccurredAt may be empty; the ingestor drops such entries.
type TrackingEvent struct {
	StatusCode  string     `json:"status_code"`
	OccurredAt  *time.Time `json:"occurred_at"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
}

// Tracking converts a validated carrier payload into a TrackingUpdate.
func Tracking(payload TrackingPayload) (TrackingUpdate, error) {
	update := TrackingUpdate{
		TrackingNumber:  strings.TrimSpace(payload.TrackingNumber),
		Carrier:         strings.TrimSpace(payload.Carrier),
		TrackingURL:     strings.TrimSpace(payload.TrackingURL),
		Status:          strings.ToLower(strings.TrimSpace(payload.Status)),
		PostageCurrency: strings.ToUpper(strings.TrimSpace(payload.PostageCurrency)),
	}
	if raw := strings.TrimSpace(payload.OrderItemID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return TrackingUpdate{}, malformed(err, "invalid order_item_id")
		}
		update.OrderItemID = &id
	}
	var err error
	if update.ShippedAt, err = optionalTime(payload.ShippedAt); err != nil {
		return TrackingUpdate{}, malformed(err, "invalid shipped_at")
	}
	if update.DeliveredAt, err = optionalTime(payload.DeliveredAt); err != nil {
		return TrackingUpdate{}, malformed(err, "invalid delivered_at")
	}
	if len(payload.PostageAmount) > 0 {
		amount, raw := parseAmount(payload.PostageAmount)
		if amount == nil && raw != "" {
			return TrackingUpdate{}, malformed(nil, "postage_amount must be numeric")
		}
		update.PostageAmount = amount
	}
	for _, event := range payload.Events {
		occurred, _ := optionalTime(event.OccurredAt)
		update.Events = append(update.Events, TrackingEvent{
			StatusCode:  strings.TrimSpace(event.StatusCode),
			OccurredAt:  occurred,
			Description: strings.TrimSpace(event.Description),
			Location:    strings.TrimSpace(event.Location),
		})
	}
	return update, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func optionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
