// Package shipments ingests carrier and provider tracking updates. Updates
// are correlated to an order item, folded into a shipment row and used to
// move item and order state forward.
package shipments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const eventSource = "shipments"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result describes what a tracking update changed.
type Result struct {
	Order          *models.Order
	Item           *models.OrderItem
	Shipment       *models.Shipment
	Shipped        bool
	Delivered      bool
	OrderFulfilled bool
}

// Service records tracking updates.
type Service interface {
	RecordTrackingEvent(ctx context.Context, provider, orderNumber string, update normalize.TrackingUpdate) (Result, error)
	ApplyTracking(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, update normalize.TrackingUpdate) (Result, error)
}

// ServiceParams bundles the dependencies of the shipment service.
type ServiceParams struct {
	Tx        txRunner
	Shipments Repository
	Orders    orders.Service
	Outbox    outboxPublisher
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	tx        txRunner
	shipments Repository
	orders    orders.Service
	outbox    outboxPublisher
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments repository required")
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
		tx:        params.Tx,
		shipments: params.Shipments,
		orders:    params.Orders,
		outbox:    params.Outbox,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// RecordTrackingEvent resolves the order by number, correlates the item and
// applies the update in one transaction.
func (s *service) RecordTrackingEvent(ctx context.Context, provider, orderNumber string, update normalize.TrackingUpdate) (Result, error) {
	if s.logg != nil {
		ctx = s.logg.WithProvider(ctx, provider)
		ctx = s.logg.WithOrderNumber(ctx, orderNumber)
	}
	if strings.TrimSpace(update.Carrier) == "" {
		update.Carrier = strings.TrimSpace(provider)
	}

	var result Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.ResolveByNumber(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		item, err := s.correlate(ctx, tx, order, update)
		if err != nil {
			return err
		}
		result, err = s.ApplyTracking(ctx, tx, order, item, update)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_item_id": result.Item.ID.String(),
			"shipped":       result.Shipped,
			"delivered":     result.Delivered,
		}), "tracking update recorded")
	}
	return result, nil
}

// correlate picks the item an update belongs to: an explicit item id, then a
// tracking number already on file, then the only item on the order.
func (s *service) correlate(ctx context.Context, tx *gorm.DB, order *models.Order, update normalize.TrackingUpdate) (*models.OrderItem, error) {
	if update.OrderItemID != nil {
		item, err := s.orders.Item(ctx, tx, *update.OrderItemID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil, unresolved(order, "order item not found")
			}
			return nil, err
		}
		if item.OrderID != order.ID {
			return nil, unresolved(order, "order item belongs to another order")
		}
		return item, nil
	}

	if tracking := strings.TrimSpace(update.TrackingNumber); tracking != "" {
		shipment, err := s.shipments.WithTx(tx).FindByOrderAndTracking(ctx, order.ID, tracking)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
		}
		if shipment != nil {
			return s.orders.Item(ctx, tx, shipment.OrderItemID)
		}
	}

	items, err := s.orders.Items(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return &items[0], nil
	}
	return nil, unresolved(order, "cannot correlate tracking update to an order item")
}

// ApplyTracking folds an update for a known item into its shipment and moves
// state forward. It runs on the caller's transaction.
func (s *service) ApplyTracking(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, update normalize.TrackingUpdate) (Result, error) {
	result := Result{Order: order, Item: item}
	shippedAt, deliveredAt := s.effectiveTimes(update)

	newlyShipped := false
	if tracking := strings.TrimSpace(update.TrackingNumber); tracking != "" {
		shipment, shipped, err := s.upsertShipment(ctx, tx, order, item, tracking, update, shippedAt, deliveredAt)
		if err != nil {
			return Result{}, err
		}
		result.Shipment = shipment
		newlyShipped = shipped
		if shipment.ShippedAt != nil && shippedAt == nil {
			shippedAt = shipment.ShippedAt
		}
		if shipment.DeliveredAt != nil && deliveredAt == nil {
			deliveredAt = shipment.DeliveredAt
		}
		if err := s.reconcileShipping(ctx, tx, order.ID); err != nil {
			return Result{}, err
		}
	}

	// advanced is true only when this update moved the order to fulfilling.
	advanced := false
	switch {
	case deliveredAt != nil:
		result.Delivered = true
		result.Shipped = true
		if _, err := s.orders.AdvanceItem(ctx, tx, item.ID, enums.ItemFulfillmentFulfilled); err != nil {
			return Result{}, err
		}
		completed, err := s.orders.CompleteIfDelivered(ctx, tx, order.ID, *deliveredAt)
		if err != nil {
			return Result{}, err
		}
		if completed {
			result.OrderFulfilled = true
			if err := s.emitDelivered(ctx, tx, order, *deliveredAt); err != nil {
				return Result{}, err
			}
			break
		}
		if advanced, err = s.orders.Advance(ctx, tx, order.ID, enums.OrderStatusFulfilling); err != nil {
			return Result{}, err
		}
	case shippedAt != nil:
		result.Shipped = true
		if _, err := s.orders.AdvanceItem(ctx, tx, item.ID, enums.ItemFulfillmentFulfilling); err != nil {
			return Result{}, err
		}
		var err error
		if advanced, err = s.orders.Advance(ctx, tx, order.ID, enums.OrderStatusFulfilling); err != nil {
			return Result{}, err
		}
	}

	switch {
	case newlyShipped && result.Shipment != nil:
		if err := s.emitShipped(ctx, tx, order, item, result.Shipment); err != nil {
			return Result{}, err
		}
	case advanced && result.Shipment == nil:
		if err := s.emitItemShipped(ctx, tx, order, item, update.Carrier, shippedAt); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// effectiveTimes fills in timestamps implied by a bare status.
func (s *service) effectiveTimes(update normalize.TrackingUpdate) (*time.Time, *time.Time) {
	shippedAt := update.ShippedAt
	deliveredAt := update.DeliveredAt
	now := s.now().UTC()
	switch update.Status {
	case normalize.TrackingStatusDelivered:
		if deliveredAt == nil {
			deliveredAt = latestEvent(update.Events, &now)
		}
	case normalize.TrackingStatusShipped:
		if shippedAt == nil {
			shippedAt = &now
		}
	}
	if deliveredAt != nil && shippedAt == nil {
		shippedAt = deliveredAt
	}
	return shippedAt, deliveredAt
}

func (s *service) upsertShipment(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, tracking string, update normalize.TrackingUpdate, shippedAt, deliveredAt *time.Time) (*models.Shipment, bool, error) {
	repo := s.shipments.WithTx(tx)
	candidate := &models.Shipment{
		OrderID:        order.ID,
		OrderItemID:    item.ID,
		TrackingNumber: tracking,
	}
	if _, err := repo.InsertIfAbsent(ctx, candidate); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert shipment")
	}
	shipment, err := repo.LockByItemAndTracking(ctx, item.ID, tracking)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
	}
	if shipment == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "shipment vanished after upsert")
	}

	updates := map[string]any{}
	if carrier := strings.TrimSpace(update.Carrier); carrier != "" && (shipment.Carrier == nil || *shipment.Carrier != carrier) {
		updates["carrier"] = carrier
		shipment.Carrier = &carrier
	}
	if url := strings.TrimSpace(update.TrackingURL); url != "" && (shipment.TrackingURL == nil || *shipment.TrackingURL != url) {
		updates["tracking_url"] = url
		shipment.TrackingURL = &url
	}
	newlyShipped := false
	if shipment.ShippedAt == nil && shippedAt != nil {
		at := shippedAt.UTC()
		updates["shipped_at"] = at
		shipment.ShippedAt = &at
		newlyShipped = true
	}
	if shipment.DeliveredAt == nil && deliveredAt != nil {
		at := deliveredAt.UTC()
		updates["delivered_at"] = at
		shipment.DeliveredAt = &at
	}
	if update.PostageAmount != nil {
		amount := update.PostageAmount.Round(2)
		updates["postage_amount"] = amount
		shipment.PostageAmount = &amount
		if currency := strings.TrimSpace(update.PostageCurrency); currency != "" {
			updates["postage_currency"] = currency
			shipment.PostageCurrency = &currency
		}
	}
	merged, changed, err := MergeEvents(shipment.Events, update.Events)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merge tracking events")
	}
	if changed {
		updates["events"] = merged
		shipment.Events = merged
	}
	if err := repo.Update(ctx, shipment.ID, updates); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipment")
	}
	return shipment, newlyShipped, nil
}

// reconcileShipping records the summed postage against the quoted shipping
// total whenever a shipment carries postage.
func (s *service) reconcileShipping(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	total, count, err := s.shipments.WithTx(tx).SumPostage(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum postage")
	}
	if count == 0 {
		return nil
	}
	return s.orders.RecordShippingActual(ctx, tx, orderID, total)
}

func (s *service) emitShipped(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, shipment *models.Shipment) error {
	data := payloads.OrderShippedEvent{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		OrderItemID:    item.ID,
		ShipmentID:     &shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		ShippedAt:      shipment.ShippedAt,
	}
	if shipment.Carrier != nil {
		data.Carrier = *shipment.Carrier
	}
	if shipment.TrackingURL != nil {
		data.TrackingURL = *shipment.TrackingURL
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderShipped,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Source:        eventSource,
		Data:          data,
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order shipped")
	}
	return nil
}

// emitItemShipped signals a dispatch reported without a tracking number.
// There is no shipment row, so the item is the aggregate.
func (s *service) emitItemShipped(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, carrier string, shippedAt *time.Time) error {
	data := payloads.OrderShippedEvent{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		OrderItemID: item.ID,
		Carrier:     strings.TrimSpace(carrier),
	}
	if shippedAt != nil {
		at := shippedAt.UTC()
		data.ShippedAt = &at
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderShipped,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   item.ID,
		Source:        eventSource,
		Data:          data,
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order shipped")
	}
	return nil
}

func (s *service) emitDelivered(ctx context.Context, tx *gorm.DB, order *models.Order, at time.Time) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderDelivered,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Source:        eventSource,
		Data: payloads.OrderDeliveredEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			DeliveredAt: at.UTC(),
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order delivered")
	}
	return nil
}

func latestEvent(events []normalize.TrackingEvent, fallback *time.Time) *time.Time {
	var latest *time.Time
	for _, event := range FilterEvents(events) {
		if latest == nil || event.OccurredAt.After(*latest) {
			at := event.OccurredAt.UTC()
			latest = &at
		}
	}
	if latest == nil {
		return fallback
	}
	return latest
}

func unresolved(order *models.Order, msg string) error {
	return pkgerrors.New(pkgerrors.CodeUnresolvedCorrelation, msg).
		WithDetails(map[string]any{"order_number": order.Number})
}
