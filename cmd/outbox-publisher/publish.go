package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
)

const defaultPublishTimeout = 15 * time.Second

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// buildMessage keys every message by aggregate id so the consumers see one
// order's paid, shipped and refunded events in commit order.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"schema_version": fmt.Sprintf("%d", resolved.Envelope.Version),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(sendCtx, buildMessage(event, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := result.Get(sendCtx)
	return err
}

// orderedPublisher adapts a Pub/Sub publisher. A failed publish pauses its
// ordering key, so the key is resumed before the row is retried.
type orderedPublisher struct {
	inner *gcppubsub.Publisher
}

func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &orderedPublisher{inner: p}
}

func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &orderedResult{
		inner: p.inner.Publish(ctx, msg),
		resume: func() {
			if msg.OrderingKey != "" {
				p.inner.ResumePublish(msg.OrderingKey)
			}
		},
	}
}

type orderedResult struct {
	inner  *gcppubsub.PublishResult
	resume func()
}

func (r *orderedResult) Get(ctx context.Context) (string, error) {
	if r.inner == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.inner.Get(ctx)
	if err != nil {
		r.resume()
	}
	return id, err
}
