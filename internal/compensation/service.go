// Package compensation carries out the follow-up work a dispatch leaves
// behind: refunding items that could not be fulfilled and paying provider
// orders from the merchant balance.
package compensation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const (
	eventSource = "compensation"

	attemptSettled          = "settled"
	attemptSettlementFailed = "settlement_failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Refunder issues provider refunds.
type Refunder interface {
	InitiateRefund(ctx context.Context, req korapay.RefundRequest) (*korapay.Refund, error)
}

// Settler pays a provider order from the merchant balance.
type Settler interface {
	PayBalance(ctx context.Context, providerOrderID string) error
}

// ServiceParams bundles the dependencies of the compensation service.
type ServiceParams struct {
	Tx       txRunner
	Payments payments.Repository
	Orders   orders.Service
	Jobs     fulfillment.Repository
	Outbox   outboxPublisher
	Refunder Refunder
	Settler  Settler
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	tx       txRunner
	payments payments.Repository
	orders   orders.Service
	jobs     fulfillment.Repository
	outbox   outboxPublisher
	refunder Refunder
	settler  Settler
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:       params.Tx,
		payments: params.Payments,
		orders:   params.Orders,
		jobs:     params.Jobs,
		outbox:   params.Outbox,
		refunder: params.Refunder,
		settler:  params.Settler,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// RefundReference is the provider idempotency reference for a job's refund.
func RefundReference(jobID uuid.UUID) string {
	return "refund-" + jobID.String()
}

// Refund returns the value of a failed item to the customer. The provider
// reference is derived from the job, and the job carries the refunded
// marker, so a redelivered request cannot refund twice.
func (s *Service) Refund(ctx context.Context, event payloads.RefundRequestedEvent) error {
	if s.logg != nil {
		ctx = s.logg.WithField(ctx, "order_item_id", event.OrderItemID.String())
	}
	job, err := s.jobs.FindByID(ctx, event.JobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment job")
	}
	if job == nil || job.OrderItemID != event.OrderItemID {
		return pkgerrors.New(pkgerrors.CodeMalformedEvent, "refund job not found for item")
	}
	if job.RefundedAt != nil {
		s.info(ctx, "refund already issued")
		return nil
	}

	payment, err := s.payments.FindPaidByOrder(ctx, event.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		s.warn(ctx, "no captured payment to refund")
		return nil
	}
	amount := refundable(payment, event.Amount)
	if !amount.IsPositive() {
		s.info(ctx, "payment already fully refunded")
		return nil
	}
	if payment.Provider != enums.PaymentProviderKorapay || s.refunder == nil {
		s.warn(ctx, fmt.Sprintf("provider %s has no refund api; refund must be issued manually", payment.Provider))
		return nil
	}

	reference := RefundReference(job.ID)
	refund, err := s.refunder.InitiateRefund(ctx, korapay.RefundRequest{
		PaymentReference: payment.ProviderReference,
		Reference:        reference,
		Amount:           amount,
		Reason:           event.Reason,
	})
	if err != nil {
		return err
	}
	providerRef := reference
	if refund != nil && strings.TrimSpace(refund.Reference) != "" {
		providerRef = refund.Reference
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		jobs := s.jobs.WithTx(tx)
		locked, err := jobs.LockByID(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock fulfillment job")
		}
		if locked == nil || locked.RefundedAt != nil {
			return nil
		}
		lockedPayment, err := s.payments.WithTx(tx).LockByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment")
		}
		if lockedPayment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		amount := refundable(lockedPayment, amount)
		total := lockedPayment.RefundedAmount.Add(amount)
		now := s.now().UTC()
		updates := map[string]any{
			"refunded_amount": total.Round(2),
			"refunded_at":     now,
		}
		full := total.GreaterThanOrEqual(lockedPayment.Amount)
		if full {
			updates["status"] = enums.PaymentStatusRefunded
		}
		if err := s.payments.WithTx(tx).Update(ctx, lockedPayment.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
		}
		marker := map[string]any{"refunded_at": now, "refund_reference": providerRef}
		if err := jobs.Update(ctx, locked.ID, marker); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark job refunded")
		}
		if _, err := s.orders.RefundIfNothingShipped(ctx, tx, event.OrderID, full); err != nil {
			return err
		}
		return s.emitIssued(ctx, tx, event, lockedPayment, amount, providerRef)
	})
}

// Settle pays the provider order and records the outcome as a job attempt.
func (s *Service) Settle(ctx context.Context, event payloads.ProviderSettlementRequestedEvent) error {
	if event.Provider != enums.FulfillmentProviderCJ {
		s.warn(ctx, fmt.Sprintf("provider %s needs no settlement", event.Provider))
		return nil
	}
	if s.settler == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "settlement client not configured")
	}
	reference := strings.TrimSpace(event.ExternalReference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeMalformedEvent, "settlement has no provider order id")
	}
	job, err := s.jobs.FindByID(ctx, event.JobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment job")
	}
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeMalformedEvent, "settlement job not found")
	}

	payErr := s.settler.PayBalance(ctx, reference)

	request, _ := json.Marshal(map[string]string{"orderId": reference})
	attempt := &models.FulfillmentAttempt{
		FulfillmentJobID: job.ID,
		Status:           attemptSettled,
		RequestPayload:   request,
	}
	if payErr != nil {
		msg := pkgerrors.Truncate(payErr)
		attempt.Status = attemptSettlementFailed
		attempt.Error = &msg
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.jobs.WithTx(tx)
		next, err := repo.NextAttemptNumber(ctx, job.ID)
		if err != nil {
			return err
		}
		attempt.AttemptNumber = next
		return repo.AppendAttempt(ctx, attempt)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record settlement attempt")
	}
	if payErr != nil {
		return payErr
	}
	s.info(ctx, "provider order settled")
	return nil
}

func (s *Service) emitIssued(ctx context.Context, tx *gorm.DB, event payloads.RefundRequestedEvent, payment *models.Payment, amount decimal.Decimal, providerRef string) error {
	issued := outbox.DomainEvent{
		EventType:     enums.EventRefundIssued,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   event.OrderItemID,
		Source:        eventSource,
		Data: payloads.RefundIssuedEvent{
			OrderID:           event.OrderID,
			OrderNumber:       event.OrderNumber,
			PaymentID:         payment.ID,
			Amount:            amount,
			Currency:          payment.Currency,
			ProviderReference: providerRef,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, issued); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund issued")
	}
	return nil
}

// refundable caps the requested amount at what is left on the payment.
func refundable(payment *models.Payment, requested decimal.Decimal) decimal.Decimal {
	remaining := payment.Amount.Sub(payment.RefundedAmount)
	if requested.GreaterThan(remaining) {
		return remaining
	}
	return requested
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
