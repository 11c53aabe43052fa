package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder          OutboxAggregateType = "order"
	AggregateOrderItem      OutboxAggregateType = "order_item"
	AggregatePayment        OutboxAggregateType = "payment"
	AggregateFulfillmentJob OutboxAggregateType = "fulfillment_job"
	AggregateShipment       OutboxAggregateType = "shipment"
	AggregateProviderEvent  OutboxAggregateType = "provider_webhook_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateOrderItem,
	AggregatePayment,
	AggregateFulfillmentJob,
	AggregateShipment,
	AggregateProviderEvent,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event carried through the outbox.
type OutboxEventType string

const (
	EventOrderPaid                   OutboxEventType = "order_paid"
	EventPaymentFailed               OutboxEventType = "payment_failed"
	EventFulfillmentRequested        OutboxEventType = "fulfillment_requested"
	EventFulfillmentFailed           OutboxEventType = "fulfillment_failed"
	EventOrderShipped                OutboxEventType = "order_shipped"
	EventOrderDelivered              OutboxEventType = "order_delivered"
	EventRefundRequested             OutboxEventType = "refund_requested"
	EventRefundIssued                OutboxEventType = "refund_issued"
	EventProviderSettlementRequested OutboxEventType = "provider_settlement_requested"
	EventProviderWebhookFailed       OutboxEventType = "provider_webhook_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventPaymentFailed,
	EventFulfillmentRequested,
	EventFulfillmentFailed,
	EventOrderShipped,
	EventOrderDelivered,
	EventRefundRequested,
	EventRefundIssued,
	EventProviderSettlementRequested,
	EventProviderWebhookFailed,
}

// OutboxEventTypes lists every event type the outbox can carry.
func OutboxEventTypes() []OutboxEventType {
	return append([]OutboxEventType(nil), validOutboxEventTypes...)
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
