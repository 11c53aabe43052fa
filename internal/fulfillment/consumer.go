package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// ConsumerName scopes this consumer's idempotency claims.
const ConsumerName = "fulfillment-worker"

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Compensator carries out the follow-up jobs a dispatch can request.
type Compensator interface {
	Refund(ctx context.Context, event payloads.RefundRequestedEvent) error
	Settle(ctx context.Context, event payloads.ProviderSettlementRequestedEvent) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer drains the fulfillment topic: dispatch requests, provider
// settlements and compensating refunds.
type Consumer struct {
	coordinator  Coordinator
	compensator  Compensator
	subscription receiver
	idempotency  processedTracker
	logg         *logger.Logger
}

// NewConsumer builds the fulfillment worker consumer.
func NewConsumer(coordinator Coordinator, compensator Compensator, subscription *pubsub.Subscriber, manager processedTracker, logg *logger.Logger) (*Consumer, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("fulfillment coordinator required")
	}
	if compensator == nil {
		return nil, fmt.Errorf("compensator required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("fulfillment subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		coordinator:  coordinator,
		compensator:  compensator,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	switch eventType {
	case enums.EventFulfillmentRequested, enums.EventRefundRequested, enums.EventProviderSettlementRequested:
	default:
		c.logg.Info(logCtx, "skipping event not handled by fulfillment worker")
		return processResult{ack: true}
	}

	envelope, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithEventID(logCtx, eventID.String())

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, ConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handle(logCtx, eventType, envelope.Data); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent) {
			c.logg.Error(logCtx, "dropping unreadable fulfillment event", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "fulfillment event handling failed", err)
		_ = c.idempotency.Delete(ctx, ConsumerName, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) error {
	switch eventType {
	case enums.EventFulfillmentRequested:
		var payload payloads.FulfillmentRequestedEvent
		if err := decode(data, &payload); err != nil {
			return err
		}
		ctx = c.logg.WithOrderNumber(ctx, payload.OrderNumber)
		summary, err := c.coordinator.DispatchForOrder(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"dispatched": summary.Dispatched,
			"failed":     summary.Failed,
		}), "fulfillment request handled")
		return nil
	case enums.EventRefundRequested:
		var payload payloads.RefundRequestedEvent
		if err := decode(data, &payload); err != nil {
			return err
		}
		return c.compensator.Refund(c.logg.WithOrderNumber(ctx, payload.OrderNumber), payload)
	case enums.EventProviderSettlementRequested:
		var payload payloads.ProviderSettlementRequestedEvent
		if err := decode(data, &payload); err != nil {
			return err
		}
		return c.compensator.Settle(c.logg.WithOrderNumber(ctx, payload.OrderNumber), payload)
	}
	return nil
}

func decode(data json.RawMessage, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "decode event payload")
	}
	return nil
}
