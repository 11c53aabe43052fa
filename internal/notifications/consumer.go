package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

// ConsumerName scopes this consumer's idempotency claims.
const ConsumerName = "order-notifications"

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer watches the notification topic and stores a notification per event.
type Consumer struct {
	service      Service
	subscription receiver
	idempotency  processedTracker
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(service Service, subscription *pubsub.Subscriber, manager processedTracker, logg *logger.Logger) (*Consumer, error) {
	if service == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		service:      service,
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

	notification, err := c.service.Record(ctx, eventType, envelope.Data)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent) {
			c.logg.Error(logCtx, "failed to parse payload", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, ConsumerName, eventID)
		return processResult{nack: true}
	}
	if notification == nil {
		c.logg.Debug(logCtx, "event has no notification")
		return processResult{ack: true}
	}
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"audience": string(notification.Audience),
		"kind":     string(notification.Kind),
	}), "notification stored")
	return processResult{ack: true}
}
