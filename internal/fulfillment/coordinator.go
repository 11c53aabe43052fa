// Package fulfillment dispatches paid order items to fulfillment providers.
// Each item gets exactly one job; every provider call is recorded as an
// append-only attempt and its outcome drives item and order state.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const (
	eventSource = "fulfillment"

	defaultConcurrency = 4
	defaultTimeout     = 5 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type trackingApplier interface {
	ApplyTracking(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, update normalize.TrackingUpdate) (shipments.Result, error)
}

// Summary counts what a dispatch run did with each item.
type Summary struct {
	Dispatched int
	Succeeded  int
	Failed     int
	Skipped    int
}

// Coordinator fans an order out to its providers.
type Coordinator interface {
	DispatchForOrder(ctx context.Context, orderID uuid.UUID) (Summary, error)
}

// CoordinatorParams bundles the dependencies of the dispatch coordinator.
type CoordinatorParams struct {
	Tx          txRunner
	Jobs        Repository
	Orders      orders.Service
	Shipments   trackingApplier
	Outbox      outboxPublisher
	Strategies  *Registry
	Logger      *logger.Logger
	Concurrency int
	Timeout     time.Duration
	AutoRefund  bool
	Now         func() time.Time
}

type coordinator struct {
	tx          txRunner
	jobs        Repository
	orders      orders.Service
	shipments   trackingApplier
	outbox      outboxPublisher
	strategies  *Registry
	logg        *logger.Logger
	concurrency int
	timeout     time.Duration
	autoRefund  bool
	now         func() time.Time
}

func NewCoordinator(params CoordinatorParams) (Coordinator, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Strategies == nil {
		return nil, fmt.Errorf("strategy registry required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &coordinator{
		tx:          params.Tx,
		jobs:        params.Jobs,
		orders:      params.Orders,
		shipments:   params.Shipments,
		outbox:      params.Outbox,
		strategies:  params.Strategies,
		logg:        params.Logger,
		concurrency: concurrency,
		timeout:     timeout,
		autoRefund:  params.AutoRefund,
		now:         now,
	}, nil
}

// DispatchForOrder dispatches every non-terminal item that has no job yet.
// Items run concurrently; one item failing never stops the others.
func (c *coordinator) DispatchForOrder(ctx context.Context, orderID uuid.UUID) (Summary, error) {
	order, err := c.orders.Get(ctx, nil, orderID)
	if err != nil {
		return Summary{}, err
	}
	if c.logg != nil {
		ctx = c.logg.WithOrderNumber(ctx, order.Number)
	}
	if order.Status.IsTerminal() || order.PaymentStatus != enums.OrderPaymentStatusPaid {
		c.info(ctx, "order not dispatchable", map[string]any{"status": order.Status, "payment_status": order.PaymentStatus})
		return Summary{}, nil
	}
	items, err := c.orders.Items(ctx, nil, orderID)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary Summary
		errs    error
	)
	tally := func(outcome itemOutcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeSkipped:
			summary.Skipped++
		case outcomeSucceeded:
			summary.Dispatched++
			summary.Succeeded++
		case outcomeFailed:
			summary.Dispatched++
			summary.Failed++
		case outcomeDispatched:
			summary.Dispatched++
		}
		errs = multierr.Append(errs, err)
	}

	var group errgroup.Group
	group.SetLimit(c.concurrency)
	for i := range items {
		item := items[i]
		group.Go(func() error {
			outcome, err := c.dispatchItem(ctx, order, &item)
			if err != nil {
				err = fmt.Errorf("item %s: %w", item.ID, err)
			}
			tally(outcome, err)
			return nil
		})
	}
	_ = group.Wait()

	c.info(ctx, "order dispatch finished", map[string]any{
		"dispatched": summary.Dispatched,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	})
	return summary, errs
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeDispatched
	outcomeSucceeded
	outcomeFailed
)

func (c *coordinator) dispatchItem(ctx context.Context, order *models.Order, item *models.OrderItem) (itemOutcome, error) {
	if c.logg != nil {
		ctx = c.logg.WithField(ctx, "order_item_id", item.ID.String())
	}
	if item.FulfillmentStatus.IsTerminal() {
		return outcomeSkipped, nil
	}
	provider, ok := ResolveProvider(item)
	if !ok {
		c.warn(ctx, "no fulfillment provider resolved for item")
		return outcomeSkipped, nil
	}
	strategy, ok := c.strategies.Resolve(provider)
	if !ok {
		c.warn(ctx, fmt.Sprintf("no strategy registered for provider %s", provider))
		return outcomeSkipped, nil
	}

	job, err := c.ensureJob(ctx, order, item, provider)
	if err != nil {
		return outcomeSkipped, err
	}
	if job == nil || job.AppliedAt != nil {
		return outcomeSkipped, nil
	}

	var result Result
	recorded, err := c.jobs.LatestOutcome(ctx, job.ID)
	if err != nil {
		return outcomeSkipped, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load recorded attempt")
	}
	if recorded != nil {
		if err := json.Unmarshal(recorded.Outcome, &result); err != nil {
			return outcomeDispatched, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode recorded attempt")
		}
		c.info(ctx, "applying recorded fulfillment attempt", map[string]any{"attempt_number": recorded.AttemptNumber})
	} else {
		now := c.now().UTC()
		claimed, err := c.jobs.ClaimDispatch(ctx, job.ID, now, now.Add(-2*c.timeout))
		if err != nil {
			return outcomeSkipped, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim fulfillment job")
		}
		if !claimed {
			c.info(ctx, "fulfillment dispatch already in flight", nil)
			return outcomeSkipped, nil
		}
		result = c.invoke(ctx, strategy, Request{Order: order, Item: item, Job: job})
		if err := c.recordAttempt(ctx, job, result); err != nil {
			return outcomeDispatched, err
		}
	}

	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return c.apply(ctx, tx, order, item, job.ID, result)
	})
	if err != nil {
		return outcomeDispatched, err
	}
	switch result.Status {
	case enums.FulfillmentResultSucceeded:
		return outcomeSucceeded, nil
	case enums.FulfillmentResultFailed:
		return outcomeFailed, nil
	}
	return outcomeDispatched, nil
}

// ensureJob creates the item's job, or loads the one an earlier run created.
func (c *coordinator) ensureJob(ctx context.Context, order *models.Order, item *models.OrderItem, provider enums.FulfillmentProvider) (*models.FulfillmentJob, error) {
	job := &models.FulfillmentJob{
		OrderID:     order.ID,
		OrderItemID: item.ID,
		Provider:    provider,
		Status:      enums.FulfillmentJobPending,
	}
	created := false
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = c.jobs.WithTx(tx).CreateIfAbsent(ctx, job)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create fulfillment job")
	}
	if created {
		return job, nil
	}
	existing, err := c.jobs.FindByItem(ctx, item.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment job")
	}
	return existing, nil
}

// invoke calls the provider outside any transaction, bounded by the
// dispatch timeout. Errors become failed results.
func (c *coordinator) invoke(ctx context.Context, strategy Strategy, req Request) Result {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := strategy.Dispatch(callCtx, req)
	if err != nil {
		c.logError(ctx, "fulfillment dispatch failed", err)
		return Failed(err, result.RequestPayload)
	}
	switch result.Status {
	case enums.FulfillmentResultSucceeded, enums.FulfillmentResultFailed, enums.FulfillmentResultFulfilling:
	default:
		result.Status = enums.FulfillmentResultPending
	}
	if result.Status == enums.FulfillmentResultFailed && strings.TrimSpace(result.Error) == "" {
		result.Error = "provider reported failure"
	}
	return result
}

// recordAttempt commits the provider outcome on its own, before any
// follow-up work, so a later failure cannot lose a call that was made.
func (c *coordinator) recordAttempt(ctx context.Context, job *models.FulfillmentJob, result Result) error {
	outcome, err := json.Marshal(result)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode fulfillment outcome")
	}
	entry := &models.FulfillmentAttempt{
		FulfillmentJobID: job.ID,
		Status:           string(result.Status),
		RequestPayload:   result.RequestPayload,
		ResponsePayload:  result.ResponsePayload,
		Outcome:          outcome,
	}
	if result.Error != "" {
		msg := pkgerrors.TruncateMessage(result.Error)
		entry.Error = &msg
	}

	updates := map[string]any{}
	if ref := strings.TrimSpace(result.ExternalReference); ref != "" {
		updates["external_reference"] = ref
	}
	switch result.Status {
	case enums.FulfillmentResultSucceeded:
		updates["status"] = enums.FulfillmentJobSucceeded
		updates["fulfilled_at"] = c.now().UTC()
		updates["last_error"] = nil
	case enums.FulfillmentResultFailed:
		updates["status"] = enums.FulfillmentJobFailed
		updates["last_error"] = pkgerrors.TruncateMessage(result.Error)
	}

	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.jobs.WithTx(tx)
		next, err := repo.NextAttemptNumber(ctx, job.ID)
		if err != nil {
			return err
		}
		entry.AttemptNumber = next
		if err := repo.AppendAttempt(ctx, entry); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return repo.Update(ctx, job.ID, updates)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record fulfillment attempt")
	}
	return nil
}

// apply carries a recorded outcome into item, shipment and order state and
// stamps the job as applied. A job applied by a concurrent run is left alone.
func (c *coordinator) apply(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, jobID uuid.UUID, result Result) error {
	repo := c.jobs.WithTx(tx)
	job, err := repo.LockByID(ctx, jobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock fulfillment job")
	}
	if job == nil || job.AppliedAt != nil {
		return nil
	}

	if _, err := c.orders.AdvanceItem(ctx, tx, item.ID, orders.ItemStatusFromResult(result.Status)); err != nil {
		return err
	}

	if result.Status == enums.FulfillmentResultFailed {
		if err := c.emitFailure(ctx, tx, order, item, job, result); err != nil {
			return err
		}
		return markApplied(ctx, repo, job.ID, c.now())
	}

	if result.HasTracking() {
		update := normalize.TrackingUpdate{
			TrackingNumber:  result.TrackingNumber,
			Carrier:         result.Carrier,
			TrackingURL:     result.TrackingURL,
			Status:          normalize.TrackingStatusShipped,
			PostageAmount:   result.PostageAmount,
			PostageCurrency: result.PostageCurrency,
		}
		if _, err := c.shipments.ApplyTracking(ctx, tx, order, item, update); err != nil {
			return err
		}
	}
	if result.Status == enums.FulfillmentResultSucceeded || result.Status == enums.FulfillmentResultFulfilling {
		if _, err := c.orders.Advance(ctx, tx, order.ID, enums.OrderStatusFulfilling); err != nil {
			return err
		}
	}
	if result.SettlementRequired && job.ExternalReference != nil {
		if err := c.emitSettlement(ctx, tx, order, item, job); err != nil {
			return err
		}
	}
	return markApplied(ctx, repo, job.ID, c.now())
}

func markApplied(ctx context.Context, repo Repository, jobID uuid.UUID, now time.Time) error {
	if err := repo.Update(ctx, jobID, map[string]any{"applied_at": now.UTC()}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark fulfillment job applied")
	}
	return nil
}

func (c *coordinator) emitFailure(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, job *models.FulfillmentJob, result Result) error {
	alert := outbox.DomainEvent{
		EventType:     enums.EventFulfillmentFailed,
		AggregateType: enums.AggregateFulfillmentJob,
		AggregateID:   job.ID,
		Source:        eventSource,
		Data: payloads.FulfillmentFailedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			OrderItemID: item.ID,
			JobID:       job.ID,
			Provider:    job.Provider,
			SKU:         item.SKU,
			Error:       pkgerrors.TruncateMessage(result.Error),
		},
	}
	if err := c.outbox.Emit(ctx, tx, alert); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit fulfillment failed")
	}
	if !c.autoRefund {
		return nil
	}
	refund := outbox.DomainEvent{
		EventType:     enums.EventRefundRequested,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   item.ID,
		Source:        eventSource,
		Data: payloads.RefundRequestedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			OrderItemID: item.ID,
			JobID:       job.ID,
			Amount:      item.LineTotal,
			Currency:    order.Currency,
			Reason:      "fulfillment_failed",
		},
	}
	if err := c.outbox.EmitIfNotExists(ctx, tx, refund); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund request")
	}
	return nil
}

func (c *coordinator) emitSettlement(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, job *models.FulfillmentJob) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventProviderSettlementRequested,
		AggregateType: enums.AggregateFulfillmentJob,
		AggregateID:   job.ID,
		Source:        eventSource,
		Data: payloads.ProviderSettlementRequestedEvent{
			OrderID:           order.ID,
			OrderNumber:       order.Number,
			OrderItemID:       item.ID,
			JobID:             job.ID,
			Provider:          job.Provider,
			ExternalReference: *job.ExternalReference,
		},
	}
	if err := c.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement request")
	}
	return nil
}

func (c *coordinator) info(ctx context.Context, msg string, fields map[string]any) {
	if c.logg == nil {
		return
	}
	if len(fields) > 0 {
		ctx = c.logg.WithFields(ctx, fields)
	}
	c.logg.Info(ctx, msg)
}

func (c *coordinator) warn(ctx context.Context, msg string) {
	if c.logg != nil {
		c.logg.Warn(ctx, msg)
	}
}

func (c *coordinator) logError(ctx context.Context, msg string, err error) {
	if c.logg != nil {
		c.logg.Error(ctx, msg, err)
	}
}
