package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	maxIdleBackoff     = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond

	outcomeDeadLetter = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service drains outbox_events to Pub/Sub. Rows are claimed with SKIP LOCKED
// inside one transaction per batch, so several publishers can run side by side.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newOrderedPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(cfg.PollIntervalMS, int(defaultPoll/time.Millisecond))) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// the next poll; batch errors back off exponentially up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	pace := pacer{base: s.pollInterval, max: maxIdleBackoff}
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = pace.failed()
		case processed:
			pace.reset()
			continue
		default:
			wait = pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// delivery is what happened to one outbox row in a batch.
type delivery struct {
	outcome string
	reason  enums.OutboxDLQErrorReason
	err     error
	topic   string
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.record(ctx, tx, event, s.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// deliver publishes one row and classifies the result. It never touches the
// database; record does.
func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return deadLetter(err, "")
	}
	topic := resolved.Descriptor.Topic

	err = s.send(ctx, event, resolved)
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		return delivery{outcome: metrics.OutcomeSuccess, topic: topic}
	case errors.As(err, &nonRetry):
		return deadLetter(err, topic)
	case event.AttemptCount+1 >= s.maxAttempts:
		return delivery{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonMaxAttempts, err: fmt.Errorf("max publish attempts reached: %w", err), topic: topic}
	default:
		return delivery{outcome: metrics.OutcomeFailure, err: err, topic: topic}
	}
}

// deadLetter takes the DLQ reason from a NonRetryableError in err's chain.
func deadLetter(err error, topic string) delivery {
	reason := enums.OutboxDLQReasonNonRetryable
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) && nonRetry.Reason.IsValid() {
		reason = nonRetry.Reason
	}
	return delivery{outcome: outcomeDeadLetter, reason: reason, err: err, topic: topic}
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	logCtx := s.logg.WithFields(ctx, s.eventFields(event, d))

	switch d.outcome {
	case metrics.OutcomeSuccess:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
	case metrics.OutcomeFailure:
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		s.logg.Warn(logCtx, "outbox publish failed; will retry")
	default:
		entry := models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  errorMessage(d.err),
			AttemptCount:  event.AttemptCount,
			FailedAt:      time.Now().UTC(),
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, event.ID, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
		s.logg.Warn(logCtx, "outbox event dead-lettered")
	}
	s.metrics.Observe(string(event.EventType), d.outcome)
	return nil
}

func (s *Service) eventFields(event models.OutboxEvent, d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"outcome":        d.outcome,
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason
	}
	if d.err != nil {
		fields["error"] = d.err.Error()
	}
	return fields
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// pacer tracks the wait between polls.
type pacer struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func (p *pacer) reset() { p.current = 0 }

func (p *pacer) idle() time.Duration {
	p.current = 0
	return jitter(p.base)
}

func (p *pacer) failed() time.Duration {
	if p.current <= 0 {
		p.current = p.base
	}
	p.current = min(p.current*2, p.max)
	return jitter(p.current)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
