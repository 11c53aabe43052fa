// Package cjwebhook ingests CJ Dropshipping order and logistics webhooks.
// Every delivery is ledgered by messageId; failures stay on the ledger for
// the replay job instead of being surfaced to the sender.
package cjwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const (
	eventSource       = "cj-webhook"
	metricsKind       = "fulfillment"
	defaultAttempts   = 5
	defaultStaleAfter = 10 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type trackingApplier interface {
	ApplyTracking(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, update normalize.TrackingUpdate) (shipments.Result, error)
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Tx          txRunner
	Events      Repository
	Jobs        fulfillment.Repository
	Orders      orders.Service
	Shipments   trackingApplier
	Outbox      outboxPublisher
	Guard       *idempotency.Guard
	Metrics     *metrics.WebhookMetrics
	Logger      *logger.Logger
	MaxAttempts int
	StaleAfter  time.Duration
	Now         func() time.Time
}

type Service struct {
	tx          txRunner
	events      Repository
	jobs        fulfillment.Repository
	orders      orders.Service
	shipments   trackingApplier
	outbox      outboxPublisher
	guard       *idempotency.Guard
	metrics     *metrics.WebhookMetrics
	logg        *logger.Logger
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Jobs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment repo required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Shipments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "shipments service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultAttempts
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:          params.Tx,
		events:      params.Events,
		jobs:        params.Jobs,
		orders:      params.Orders,
		shipments:   params.Shipments,
		outbox:      params.Outbox,
		guard:       params.Guard,
		metrics:     params.Metrics,
		logg:        params.Logger,
		maxAttempts: maxAttempts,
		staleAfter:  staleAfter,
		now:         now,
	}, nil
}

// Handle ledgers and processes one delivery. The returned error is for
// logging only; the HTTP layer acknowledges the sender regardless.
func (s *Service) Handle(ctx context.Context, body []byte) error {
	hook, err := normalize.DecodeCJ(body)
	if err != nil {
		s.observe(metrics.OutcomeRejected)
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithProvider(ctx, string(enums.FulfillmentProviderCJ))
		ctx = s.logg.WithEventID(ctx, hook.MessageID)
	}

	if s.guard != nil {
		seen, err := s.guard.Claim(ctx, hook.MessageID)
		if err != nil {
			s.warn(ctx, "idempotency guard unavailable; falling back to ledger")
		} else if seen {
			s.observe(metrics.OutcomeDuplicate)
			return nil
		}
	}

	entry, duplicate, err := s.record(ctx, hook, body)
	if err != nil {
		s.release(ctx, hook.MessageID)
		s.observe(metrics.OutcomeFailure)
		return err
	}
	if duplicate {
		s.observe(metrics.OutcomeDuplicate)
		return nil
	}

	procErr := s.process(ctx, entry)
	status, err := s.finish(ctx, entry, procErr)
	if err != nil {
		s.release(ctx, hook.MessageID)
		s.observe(metrics.OutcomeFailure)
		return multierr.Append(procErr, err)
	}
	switch status {
	case enums.WebhookStatusProcessed:
		s.observe(metrics.OutcomeSuccess)
		return nil
	case enums.WebhookStatusRejected:
		s.observe(metrics.OutcomeIgnored)
		if errors.Is(procErr, normalize.ErrUnsupportedEvent) {
			return nil
		}
		return procErr
	default:
		s.release(ctx, hook.MessageID)
		s.observe(metrics.OutcomeFailure)
		return procErr
	}
}

// ReplaySummary reports one replay pass.
type ReplaySummary struct {
	Replayed  int
	Succeeded int
	Failed    int
}

// Replay reprocesses failed ledger rows that still have attempts left.
func (s *Service) Replay(ctx context.Context, limit int) (ReplaySummary, error) {
	var summary ReplaySummary
	staleBefore := s.now().UTC().Add(-s.staleAfter)
	entries, err := s.events.ListReplayable(ctx, s.maxAttempts, staleBefore, limit)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list replayable webhooks")
	}

	var errs error
	for i := range entries {
		entry := &entries[i]
		entryCtx := ctx
		if s.logg != nil {
			entryCtx = s.logg.WithEventID(ctx, entry.MessageID)
		}
		if err := s.events.IncrementAttempts(entryCtx, entry.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", entry.MessageID, err))
			continue
		}
		entry.Attempts++
		summary.Replayed++

		procErr := s.process(entryCtx, entry)
		status, err := s.finish(entryCtx, entry, procErr)
		if err != nil {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", entry.MessageID, err))
			continue
		}
		if status == enums.WebhookStatusFailed {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", entry.MessageID, procErr))
			continue
		}
		if s.guard != nil {
			if _, err := s.guard.Claim(entryCtx, entry.MessageID); err != nil {
				s.warn(entryCtx, "mark replayed message failed")
			}
		}
		summary.Succeeded++
	}
	return summary, errs
}

// record inserts the ledger row, or bumps the attempts of an existing one.
// A row that already reached a terminal status is a duplicate.
func (s *Service) record(ctx context.Context, hook normalize.CJWebhook, body []byte) (*models.ProviderWebhookEvent, bool, error) {
	var (
		entry     *models.ProviderWebhookEvent
		duplicate bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.events.WithTx(tx)
		fresh := &models.ProviderWebhookEvent{
			Provider:  enums.FulfillmentProviderCJ,
			MessageID: hook.MessageID,
			EventType: eventType(hook),
			Payload:   body,
			Status:    enums.WebhookStatusReceived,
			Attempts:  1,
		}
		inserted, err := repo.InsertIfAbsent(ctx, fresh)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert provider webhook")
		}
		if inserted {
			entry = fresh
			return nil
		}
		existing, err := repo.FindByMessageID(ctx, hook.MessageID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider webhook")
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "provider webhook vanished after conflict")
		}
		if existing.Status == enums.WebhookStatusProcessed || existing.Status == enums.WebhookStatusRejected {
			duplicate = true
			entry = existing
			return nil
		}
		if err := repo.IncrementAttempts(ctx, existing.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment webhook attempts")
		}
		existing.Attempts++
		entry = existing
		return nil
	})
	return entry, duplicate, err
}

// process applies the stored payload to the fulfillment job and shipment.
func (s *Service) process(ctx context.Context, entry *models.ProviderWebhookEvent) error {
	hook, err := normalize.DecodeCJ(entry.Payload)
	if err != nil {
		return err
	}
	update, err := normalize.CJ(hook)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		job, err := s.resolveJob(ctx, tx, update)
		if err != nil {
			return err
		}
		order, err := s.orders.Get(ctx, tx, job.OrderID)
		if err != nil {
			return err
		}
		item, err := s.orders.Item(ctx, tx, job.OrderItemID)
		if err != nil {
			return err
		}
		if job.ExternalReference == nil && update.ProviderOrderID != "" {
			if err := s.jobs.WithTx(tx).Update(ctx, job.ID, map[string]any{"external_reference": update.ProviderOrderID}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link provider order")
			}
		}
		if !update.HasTracking() {
			return nil
		}
		tracking := update.Tracking
		itemID := item.ID
		tracking.OrderItemID = &itemID
		if tracking.Carrier == "" {
			tracking.Carrier = string(update.Provider)
		}
		if tracking.Status == "" {
			tracking.Status = normalize.TrackingStatusShipped
		}
		_, err = s.shipments.ApplyTracking(ctx, tx, order, item, tracking)
		return err
	})
}

// resolveJob finds the job by CJ order id, then by the item id sent as the
// CJ orderNumber at dispatch.
func (s *Service) resolveJob(ctx context.Context, tx *gorm.DB, update normalize.FulfillmentUpdate) (*models.FulfillmentJob, error) {
	repo := s.jobs.WithTx(tx)
	if update.ProviderOrderID != "" {
		job, err := repo.FindByExternalReference(ctx, update.ProviderOrderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment job")
		}
		if job != nil {
			return job, nil
		}
	}
	if itemID, err := uuid.Parse(strings.TrimSpace(update.OrderReference)); err == nil {
		job, err := repo.FindByItem(ctx, itemID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment job")
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeUnresolvedCorrelation, "no fulfillment job for provider order").
		WithDetails(map[string]any{
			"provider_order_id": update.ProviderOrderID,
			"order_reference":   update.OrderReference,
		})
}

// finish writes the outcome. Malformed and unsupported messages are terminal;
// anything else stays failed for replay and alerts once attempts run out.
func (s *Service) finish(ctx context.Context, entry *models.ProviderWebhookEvent, procErr error) (enums.WebhookStatus, error) {
	now := s.now().UTC()
	outcome := Outcome{Status: enums.WebhookStatusProcessed, ProcessedAt: &now}
	if procErr != nil {
		msg := pkgerrors.Truncate(procErr)
		outcome.LastError = &msg
		if terminal(procErr) {
			outcome.Status = enums.WebhookStatusRejected
		} else {
			outcome.Status = enums.WebhookStatusFailed
			outcome.ProcessedAt = nil
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).UpdateOutcome(ctx, entry.ID, outcome); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook outcome")
		}
		if outcome.Status != enums.WebhookStatusFailed || entry.Attempts < s.maxAttempts {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProviderWebhookFailed,
			AggregateType: enums.AggregateProviderEvent,
			AggregateID:   entry.ID,
			Source:        eventSource,
			Data: payloads.ProviderWebhookFailedEvent{
				WebhookEventID: entry.ID,
				Provider:       entry.Provider,
				MessageID:      entry.MessageID,
				EventType:      entry.EventType,
				Attempts:       entry.Attempts,
				Error:          *outcome.LastError,
			},
		})
	})
	if err != nil {
		return outcome.Status, err
	}

	switch outcome.Status {
	case enums.WebhookStatusFailed:
		s.logError(ctx, "provider webhook processing failed", procErr)
	case enums.WebhookStatusRejected:
		s.warn(ctx, "provider webhook rejected: "+*outcome.LastError)
	}
	return outcome.Status, nil
}

func terminal(err error) bool {
	return errors.Is(err, normalize.ErrUnsupportedEvent) || pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent)
}

func eventType(hook normalize.CJWebhook) string {
	if hook.MessageType == "" {
		return hook.Type
	}
	return hook.Type + "." + strings.ToUpper(strings.TrimSpace(hook.MessageType))
}

func (s *Service) release(ctx context.Context, messageID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, messageID); err != nil {
		s.warn(ctx, "release idempotency key failed")
	}
}

func (s *Service) observe(outcome string) {
	s.metrics.Observe(metricsKind, string(enums.FulfillmentProviderCJ), outcome)
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
