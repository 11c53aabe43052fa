// Package payments reconciles normalized payment events into payment and
// order state. Ledger entry, payment upsert, order update and outbox events
// commit in one transaction.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// AmountTolerance is the largest accepted gap between a payment and the
// order grand total.
var AmountTolerance = decimal.New(1, -2)

const eventSource = "payments"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventLedger interface {
	RecordIfNew(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, eventID string, payload json.RawMessage) (ledger.Record, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, paymentID *uuid.UUID) error
	MarkRejected(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, cause error) error
	MarkFailed(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, cause error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result is what a payment webhook reports back to the provider.
type Result struct {
	Payment    *models.Payment
	Order      *models.Order
	Duplicate  bool
	BecamePaid bool
}

// Service reconciles provider payment events.
type Service interface {
	HandleProviderEvent(ctx context.Context, provider enums.PaymentProvider, eventID string, event normalize.PaymentEvent) (Result, error)
}

// ServiceParams bundles the dependencies of the payment service.
type ServiceParams struct {
	Tx       txRunner
	Ledger   eventLedger
	Payments Repository
	Orders   orders.Service
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	tx       txRunner
	ledger   eventLedger
	payments Repository
	orders   orders.Service
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:       params.Tx,
		ledger:   params.Ledger,
		payments: params.Payments,
		orders:   params.Orders,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// HandleProviderEvent ledgers the event and, unless it was already processed,
// applies it. Malformed events are ledgered as rejected and never retried.
// Unknown orders and amount mismatches roll back every write, then the ledger
// row is recorded as failed in its own transaction so a corrected redelivery
// can still succeed.
func (s *service) HandleProviderEvent(ctx context.Context, provider enums.PaymentProvider, eventID string, event normalize.PaymentEvent) (Result, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeMalformedEvent, "event id is required")
	}
	if s.logg != nil {
		ctx = s.logg.WithProvider(ctx, provider.String())
		ctx = s.logg.WithEventID(ctx, eventID)
		ctx = s.logg.WithOrderNumber(ctx, event.OrderNumber)
	}

	var (
		result   Result
		rejected error
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.ledger.RecordIfNew(ctx, tx, provider, eventID, event.Raw)
		if err != nil {
			return err
		}
		if record.Duplicate {
			result, err = s.duplicateResult(ctx, tx, record.Entry)
			return err
		}
		if verr := validate(event); verr != nil {
			rejected = verr
			return s.ledger.MarkRejected(ctx, tx, record.Entry.ID, verr)
		}

		result, err = s.reconcile(ctx, tx, provider, event)
		if err != nil {
			return err
		}
		return s.ledger.MarkProcessed(ctx, tx, record.Entry.ID, &result.Payment.ID)
	})
	if rejected != nil {
		s.warn(ctx, "payment event rejected as malformed")
		return Result{}, rejected
	}
	if err != nil {
		if recordable(err) {
			s.recordFailure(ctx, provider, eventID, event.Raw, err)
		}
		return Result{}, err
	}
	if result.Duplicate {
		s.info(ctx, "duplicate payment event skipped")
	} else if result.BecamePaid {
		s.info(ctx, "payment marked paid")
	}
	return result, nil
}

func (s *service) reconcile(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, event normalize.PaymentEvent) (Result, error) {
	order, err := s.orders.ResolveByNumber(ctx, tx, event.OrderNumber)
	if err != nil {
		return Result{}, err
	}
	if err := CheckAmount(order, *event.Amount, event.Currency); err != nil {
		return Result{}, err
	}

	payment, err := s.resolvePayment(ctx, tx, provider, order, event)
	if err != nil {
		return Result{}, err
	}

	result := Result{Payment: payment, Order: order}
	next, known := enums.MapProviderPaymentStatus(event.Status)
	if !known {
		return result, nil
	}
	transition := ApplyStatus(payment, next, s.now())
	if !transition.Changed() {
		return result, nil
	}
	if err := s.payments.WithTx(tx).Update(ctx, payment.ID, transition.Updates); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment status")
	}

	switch {
	case transition.BecamePaid:
		order, err = s.orders.MarkPaid(ctx, tx, order.ID, *payment.PaidAt)
		if err != nil {
			return Result{}, err
		}
		result.Order = order
		result.BecamePaid = true
		if err := s.emitPaid(ctx, tx, order, payment); err != nil {
			return Result{}, err
		}
	case transition.BecameFail:
		if _, err := s.orders.MarkPaymentFailed(ctx, tx, order.ID); err != nil {
			return Result{}, err
		}
		if err := s.emitFailed(ctx, tx, order, payment); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// resolvePayment creates the payment or locks the existing one. Amount and
// currency stay as first recorded; the idempotency key and raw metadata
// follow the latest event.
func (s *service) resolvePayment(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, order *models.Order, event normalize.PaymentEvent) (*models.Payment, error) {
	repo := s.payments.WithTx(tx)
	reference := strings.TrimSpace(event.ProviderReference)
	if reference == "" {
		reference = strings.TrimSpace(event.IdempotencyKey)
	}
	var key *string
	if k := strings.TrimSpace(event.IdempotencyKey); k != "" {
		key = &k
	}
	candidate := &models.Payment{
		OrderID:           order.ID,
		Provider:          provider,
		ProviderReference: reference,
		Amount:            event.Amount.Round(2),
		Currency:          strings.ToUpper(strings.TrimSpace(event.Currency)),
		Status:            enums.PaymentStatusPending,
		IdempotencyKey:    key,
		RefundedAmount:    decimal.Zero,
		Metadata:          metadata(event.Raw),
	}
	if _, err := repo.InsertIfAbsent(ctx, candidate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert payment")
	}
	payment, err := repo.LockByReference(ctx, provider, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment vanished after upsert")
	}
	if payment.OrderID != order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "provider reference already belongs to another order").
			WithDetails(map[string]any{"provider_reference": reference})
	}

	updates := map[string]any{}
	if key != nil && (payment.IdempotencyKey == nil || *payment.IdempotencyKey != *key) {
		updates["idempotency_key"] = *key
		payment.IdempotencyKey = key
	}
	if raw := metadata(event.Raw); len(raw) > 0 && string(raw) != string(payment.Metadata) {
		updates["metadata"] = raw
		payment.Metadata = raw
	}
	if err := repo.Update(ctx, payment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment")
	}
	return payment, nil
}

func (s *service) emitPaid(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) error {
	paidAt := s.now().UTC()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	paid := outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Source:        eventSource,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			PaymentID:   payment.ID,
			Provider:    payment.Provider,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
			PaidAt:      paidAt,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, paid); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order paid")
	}
	dispatch := outbox.DomainEvent{
		EventType:     enums.EventFulfillmentRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Source:        eventSource,
		Data: payloads.FulfillmentRequestedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, dispatch); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit fulfillment request")
	}
	return nil
}

func (s *service) emitFailed(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Source:        eventSource,
		Data: payloads.PaymentFailedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			PaymentID:   payment.ID,
			Provider:    payment.Provider,
			Status:      string(payment.Status),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment failed")
	}
	return nil
}

func (s *service) duplicateResult(ctx context.Context, tx *gorm.DB, entry *models.PaymentWebhook) (Result, error) {
	result := Result{Duplicate: true}
	if entry == nil || entry.PaymentID == nil {
		return result, nil
	}
	payment, err := s.payments.WithTx(tx).FindByID(ctx, *entry.PaymentID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return result, nil
	}
	result.Payment = payment
	order, err := s.orders.Get(ctx, tx, payment.OrderID)
	if err != nil {
		return Result{}, err
	}
	result.Order = order
	return result, nil
}

// recordFailure ledgers an attempt whose transaction was rolled back.
func (s *service) recordFailure(ctx context.Context, provider enums.PaymentProvider, eventID string, raw json.RawMessage, cause error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.ledger.RecordIfNew(ctx, tx, provider, eventID, raw)
		if err != nil {
			return err
		}
		if record.Duplicate {
			return nil
		}
		return s.ledger.MarkFailed(ctx, tx, record.Entry.ID, cause)
	})
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to ledger payment event failure", err)
	}
}

// recordable reports whether the failure is about the event's data rather
// than infrastructure, so it belongs on the ledger row.
func recordable(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeNotFound) ||
		pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch) ||
		pkgerrors.IsCode(err, pkgerrors.CodeConflict)
}

func (s *service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func metadata(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
