package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OrderPaidEvent fires once when an order's payment first becomes paid.
type OrderPaidEvent struct {
	OrderID     uuid.UUID             `json:"order_id"`
	OrderNumber string                `json:"order_number"`
	PaymentID   uuid.UUID             `json:"payment_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	Amount      decimal.Decimal       `json:"amount"`
	Currency    string                `json:"currency"`
	PaidAt      time.Time             `json:"paid_at"`
}

// PaymentFailedEvent surfaces a provider-declared payment failure.
type PaymentFailedEvent struct {
	OrderID     uuid.UUID             `json:"order_id"`
	OrderNumber string                `json:"order_number"`
	PaymentID   uuid.UUID             `json:"payment_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	Status      string                `json:"status"`
}

// FulfillmentRequestedEvent asks the worker to dispatch every eligible item.
type FulfillmentRequestedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
}

// FulfillmentFailedEvent is the admin alert for a single failed item.
type FulfillmentFailedEvent struct {
	OrderID     uuid.UUID                 `json:"order_id"`
	OrderNumber string                    `json:"order_number"`
	OrderItemID uuid.UUID                 `json:"order_item_id"`
	JobID       uuid.UUID                 `json:"job_id"`
	Provider    enums.FulfillmentProvider `json:"provider"`
	SKU         string                    `json:"sku,omitempty"`
	Error       string                    `json:"error"`
}

// OrderShippedEvent notifies the customer that an item is on its way.
// Carriers that report a dispatch without a tracking number leave the
// shipment fields empty.
type OrderShippedEvent struct {
	OrderID        uuid.UUID  `json:"order_id"`
	OrderNumber    string     `json:"order_number"`
	OrderItemID    uuid.UUID  `json:"order_item_id"`
	ShipmentID     *uuid.UUID `json:"shipment_id,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	TrackingURL    string     `json:"tracking_url,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
}

// OrderDeliveredEvent fires once when every item on the order is fulfilled.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// RefundRequestedEvent asks the worker to refund part of an order.
type RefundRequestedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	OrderItemID uuid.UUID       `json:"order_item_id"`
	JobID       uuid.UUID       `json:"job_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reason      string          `json:"reason"`
}

// RefundIssuedEvent records a completed provider refund.
type RefundIssuedEvent struct {
	OrderID           uuid.UUID       `json:"order_id"`
	OrderNumber       string          `json:"order_number"`
	PaymentID         uuid.UUID       `json:"payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderReference string          `json:"provider_reference"`
}

// ProviderSettlementRequestedEvent asks the worker to pay a provider order from balance.
type ProviderSettlementRequestedEvent struct {
	OrderID           uuid.UUID                 `json:"order_id"`
	OrderNumber       string                    `json:"order_number"`
	OrderItemID       uuid.UUID                 `json:"order_item_id"`
	JobID             uuid.UUID                 `json:"job_id"`
	Provider          enums.FulfillmentProvider `json:"provider"`
	ExternalReference string                    `json:"external_reference"`
}

// ProviderWebhookFailedEvent alerts operators about a dead-lettered provider webhook.
type ProviderWebhookFailedEvent struct {
	WebhookEventID uuid.UUID                 `json:"webhook_event_id"`
	Provider       enums.FulfillmentProvider `json:"provider"`
	MessageID      string                    `json:"message_id"`
	EventType      string                    `json:"event_type"`
	Attempts       int                       `json:"attempts"`
	Error          string                    `json:"error"`
}
