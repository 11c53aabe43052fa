package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Service owns order and item state transitions. Every method runs on the
// caller's transaction so transitions commit together with whatever caused
// them.
type Service interface {
	ResolveByNumber(ctx context.Context, tx *gorm.DB, number string) (*models.Order, error)
	Get(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error)
	Item(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (*models.OrderItem, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paidAt time.Time) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	Advance(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, next enums.OrderStatus) (bool, error)
	AdvanceItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, next enums.ItemFulfillmentStatus) (bool, error)
	CompleteIfDelivered(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error)
	RefundIfNothingShipped(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fullyRefunded bool) (bool, error)
	RecordShippingActual(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actual decimal.Decimal) error
}

type service struct {
	repo Repository
}

// NewService builds the order transition service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ResolveByNumber(ctx context.Context, tx *gorm.DB, number string) (*models.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	order, err := s.repo.WithTx(tx).FindByNumber(ctx, number)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithDetails(map[string]any{"order_number": number})
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
	return requireOrder(order, orderID, err)
}

func (s *service) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).LockByID(ctx, orderID)
	return requireOrder(order, orderID, err)
}

func (s *service) Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error) {
	items, err := s.repo.WithTx(tx).ListItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
	}
	return items, nil
}

func (s *service) Item(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (*models.OrderItem, error) {
	item, err := s.repo.WithTx(tx).FindItem(ctx, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order item")
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found").WithDetails(map[string]any{"order_item_id": itemID.String()})
	}
	return item, nil
}

// MarkPaid records the order-level payment. payment_status becomes paid and
// a pending order is promoted to paid; later statuses are left alone.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paidAt time.Time) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if order.PaymentStatus != enums.OrderPaymentStatusPaid {
		updates["payment_status"] = enums.OrderPaymentStatusPaid
		order.PaymentStatus = enums.OrderPaymentStatusPaid
	}
	if order.PaidAt == nil {
		paid := paidAt.UTC()
		updates["paid_at"] = paid
		order.PaidAt = &paid
	}
	if order.Status == enums.OrderStatusPending {
		updates["status"] = enums.OrderStatusPaid
		order.Status = enums.OrderStatusPaid
	}
	if err := repo.Update(ctx, order.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
	}
	return order, nil
}

// MarkPaymentFailed flags an order whose only payment attempt failed. An
// order that was already paid keeps its paid status.
func (s *service) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus != enums.OrderPaymentStatusPending {
		return false, nil
	}
	if err := s.repo.WithTx(tx).Update(ctx, orderID, map[string]any{"payment_status": enums.OrderPaymentStatusFailed}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment failed")
	}
	return true, nil
}

// Advance moves the order forward when allowed and reports whether it moved.
func (s *service) Advance(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, next enums.OrderStatus) (bool, error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if !CanAdvanceOrder(order.Status, next) {
		return false, nil
	}
	if err := s.repo.WithTx(tx).Update(ctx, order.ID, map[string]any{"status": next}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
	}
	return true, nil
}

func (s *service) AdvanceItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, next enums.ItemFulfillmentStatus) (bool, error) {
	item, err := s.Item(ctx, tx, itemID)
	if err != nil {
		return false, err
	}
	if !CanAdvanceItem(item.FulfillmentStatus, next) {
		return false, nil
	}
	if err := s.repo.WithTx(tx).UpdateItemStatus(ctx, itemID, next); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update item status")
	}
	return true, nil
}

// CompleteIfDelivered marks the order fulfilled once every non-cancelled
// item is fulfilled. The boolean is true only on the transition itself.
func (s *service) CompleteIfDelivered(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status.IsTerminal() {
		return false, nil
	}
	items, err := s.Items(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	fulfilled := 0
	for _, item := range items {
		switch item.FulfillmentStatus {
		case enums.ItemFulfillmentFulfilled:
			fulfilled++
		case enums.ItemFulfillmentCancelled:
		default:
			return false, nil
		}
	}
	if fulfilled == 0 {
		return false, nil
	}
	updates := map[string]any{
		"status":       enums.OrderStatusFulfilled,
		"fulfilled_at": at.UTC(),
	}
	if err := s.repo.WithTx(tx).Update(ctx, orderID, updates); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete order")
	}
	return true, nil
}

// RefundIfNothingShipped moves the order to refunded when no item is
// fulfilled or still fulfilling. payment_status follows only when the
// payment has been refunded in full.
func (s *service) RefundIfNothingShipped(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fullyRefunded bool) (bool, error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	updates := map[string]any{}
	if fullyRefunded && order.PaymentStatus != enums.OrderPaymentStatusRefunded {
		updates["payment_status"] = enums.OrderPaymentStatusRefunded
	}
	moved := false
	if !order.Status.IsTerminal() {
		items, err := s.Items(ctx, tx, orderID)
		if err != nil {
			return false, err
		}
		shipped := false
		for _, item := range items {
			if item.FulfillmentStatus == enums.ItemFulfillmentFulfilled || item.FulfillmentStatus == enums.ItemFulfillmentFulfilling {
				shipped = true
				break
			}
		}
		if !shipped {
			updates["status"] = enums.OrderStatusRefunded
			moved = true
		}
	}
	if err := s.repo.WithTx(tx).Update(ctx, orderID, updates); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refund order")
	}
	return moved, nil
}

// RecordShippingActual stores the summed postage and its variance against
// the quoted shipping total. It is a monitoring signal and never blocks.
func (s *service) RecordShippingActual(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actual decimal.Decimal) error {
	order, err := s.Get(ctx, tx, orderID)
	if err != nil {
		return err
	}
	variance := actual.Sub(order.ShippingTotal)
	updates := map[string]any{
		"shipping_total_actual": actual.Round(2),
		"shipping_variance":     variance.Round(2),
	}
	if err := s.repo.WithTx(tx).Update(ctx, orderID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record shipping actual")
	}
	return nil
}

func requireOrder(order *models.Order, orderID uuid.UUID, err error) (*models.Order, error) {
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithDetails(map[string]any{"order_id": orderID.String()})
	}
	return order, nil
}
