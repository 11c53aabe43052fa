package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to the aggregates that may emit it,
// its topic and its payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateTypes []enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// Accepts reports whether rows of aggregate may carry this event type.
func (d EventDescriptor) Accepts(aggregate enums.OutboxAggregateType) bool {
	return slices.Contains(d.AggregateTypes, aggregate)
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should dead-letter the row now.
// Reason is what lands on the DLQ entry.
type NonRetryableError struct {
	Reason enums.OutboxDLQErrorReason
	Err    error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err as a permanent failure.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Reason: enums.OutboxDLQReasonNonRetryable, Err: err}
}

func unroutable(err error) NonRetryableError {
	return NonRetryableError{Reason: enums.OutboxDLQReasonUnroutable, Err: err}
}

func describe[T any](eventType enums.OutboxEventType, topic string, aggregates ...enums.OutboxAggregateType) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateTypes: aggregates,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes work the worker must perform to the fulfillment
// topic and everything a human should hear about to the notification topic.
// Every outbox event type must have a route.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	work, notify := cfg.FulfillmentTopic, cfg.NotificationTopic
	if work == "" {
		return nil, errors.New("fulfillment topic is required")
	}
	if notify == "" {
		return nil, errors.New("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		describe[payloads.FulfillmentRequestedEvent](enums.EventFulfillmentRequested, work, enums.AggregateOrder),
		describe[payloads.RefundRequestedEvent](enums.EventRefundRequested, work, enums.AggregateOrderItem),
		describe[payloads.ProviderSettlementRequestedEvent](enums.EventProviderSettlementRequested, work, enums.AggregateFulfillmentJob),

		describe[payloads.OrderPaidEvent](enums.EventOrderPaid, notify, enums.AggregateOrder),
		describe[payloads.PaymentFailedEvent](enums.EventPaymentFailed, notify, enums.AggregatePayment),
		describe[payloads.FulfillmentFailedEvent](enums.EventFulfillmentFailed, notify, enums.AggregateFulfillmentJob),
		// Shipments without a tracking number are signalled per item.
		describe[payloads.OrderShippedEvent](enums.EventOrderShipped, notify, enums.AggregateShipment, enums.AggregateOrderItem),
		describe[payloads.OrderDeliveredEvent](enums.EventOrderDelivered, notify, enums.AggregateOrder),
		describe[payloads.RefundIssuedEvent](enums.EventRefundIssued, notify, enums.AggregateOrderItem),
		describe[payloads.ProviderWebhookFailedEvent](enums.EventProviderWebhookFailed, notify, enums.AggregateProviderEvent),
	} {
		if _, dup := reg.entries[desc.EventType]; dup {
			return nil, fmt.Errorf("event type %s routed twice", desc.EventType)
		}
		reg.entries[desc.EventType] = desc
	}

	for _, eventType := range enums.OutboxEventTypes() {
		if _, ok := reg.entries[eventType]; !ok {
			return nil, fmt.Errorf("event type %s has no route", eventType)
		}
	}
	return reg, nil
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, unroutable(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if !desc.Accepts(event.AggregateType) {
		return nil, unroutable(fmt.Errorf("aggregate mismatch: %s does not emit %s", event.AggregateType, event.EventType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
