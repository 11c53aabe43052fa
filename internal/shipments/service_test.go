package shipments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newShipmentService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	orderSvc, err := orders.NewService(orders.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Tx:        client,
		Shipments: NewRepository(conn),
		Orders:    orderSvc,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), nil),
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc, conn
}

func markPaid(t *testing.T, conn *gorm.DB, order models.Order) {
	t.Helper()
	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"status": enums.OrderStatusPaid, "payment_status": enums.OrderPaymentStatusPaid}).Error)
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func ts(value string) *time.Time {
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &at
}

func TestShippedThenDeliveredSignalsOnce(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2001", "40.00", "USD", dbtest.ItemSeed{SKU: "A", LineTotal: "40.00"})
	markPaid(t, conn, order)
	ctx := context.Background()

	shipped := normalize.TrackingUpdate{TrackingNumber: "TRK-1", Carrier: "dhl", ShippedAt: ts("2026-03-01T10:00:00Z")}
	res, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2001", shipped)
	require.NoError(t, err)
	assert.True(t, res.Shipped)
	assert.False(t, res.Delivered)
	assert.Equal(t, items[0].ID, res.Item.ID)

	_, err = svc.RecordTrackingEvent(ctx, "dhl", "ORD-2001", shipped)
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderShipped))

	delivered := normalize.TrackingUpdate{TrackingNumber: "TRK-1", DeliveredAt: ts("2026-03-03T15:00:00Z")}
	res, err = svc.RecordTrackingEvent(ctx, "dhl", "ORD-2001", delivered)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.True(t, res.OrderFulfilled)

	res, err = svc.RecordTrackingEvent(ctx, "dhl", "ORD-2001", delivered)
	require.NoError(t, err)
	assert.False(t, res.OrderFulfilled)

	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilled, stored.Status)
	require.NotNil(t, stored.FulfilledAt)
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderDelivered))

	var item models.OrderItem
	require.NoError(t, conn.First(&item, "id = ?", items[0].ID).Error)
	assert.Equal(t, enums.ItemFulfillmentFulfilled, item.FulfillmentStatus)
}

func TestLateShippedUpdateDoesNotRegress(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2002", "10.00", "USD", dbtest.ItemSeed{SKU: "A", LineTotal: "10.00"})
	markPaid(t, conn, order)
	ctx := context.Background()

	_, err := svc.RecordTrackingEvent(ctx, "ups", "ORD-2002", normalize.TrackingUpdate{
		TrackingNumber: "TRK-9",
		Status:         normalize.TrackingStatusDelivered,
	})
	require.NoError(t, err)

	_, err = svc.RecordTrackingEvent(ctx, "ups", "ORD-2002", normalize.TrackingUpdate{
		TrackingNumber: "TRK-9",
		ShippedAt:      ts("2026-02-27T08:00:00Z"),
	})
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilled, stored.Status)
	var item models.OrderItem
	require.NoError(t, conn.First(&item, "id = ?", items[0].ID).Error)
	assert.Equal(t, enums.ItemFulfillmentFulfilled, item.FulfillmentStatus)

	var shipment models.Shipment
	require.NoError(t, conn.First(&shipment, "order_item_id = ?", items[0].ID).Error)
	require.NotNil(t, shipment.DeliveredAt)
	assert.True(t, shipment.DeliveredAt.Equal(fixedNow))
}

func TestCorrelation(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2003", "30.00", "USD",
		dbtest.ItemSeed{SKU: "A", LineTotal: "10.00"},
		dbtest.ItemSeed{SKU: "B", LineTotal: "20.00"},
	)
	markPaid(t, conn, order)
	ctx := context.Background()

	t.Run("multiple items without hint is unresolved", func(t *testing.T) {
		_, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2003", normalize.TrackingUpdate{TrackingNumber: "TRK-A"})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnresolvedCorrelation))
		var count int64
		require.NoError(t, conn.Model(&models.Shipment{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("explicit item id", func(t *testing.T) {
		id := items[1].ID
		res, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2003", normalize.TrackingUpdate{OrderItemID: &id, TrackingNumber: "TRK-B"})
		require.NoError(t, err)
		assert.Equal(t, items[1].ID, res.Item.ID)
	})

	t.Run("known tracking number", func(t *testing.T) {
		res, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2003", normalize.TrackingUpdate{TrackingNumber: "TRK-B", Carrier: "dhl express"})
		require.NoError(t, err)
		assert.Equal(t, items[1].ID, res.Item.ID)
		require.NotNil(t, res.Shipment.Carrier)
		assert.Equal(t, "dhl express", *res.Shipment.Carrier)
	})

	t.Run("item from another order", func(t *testing.T) {
		_, others := dbtest.SeedOrder(t, conn, "ORD-2004", "5.00", "USD", dbtest.ItemSeed{SKU: "C", LineTotal: "5.00"})
		id := others[0].ID
		_, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2003", normalize.TrackingUpdate{OrderItemID: &id, TrackingNumber: "TRK-C"})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnresolvedCorrelation))
	})

	t.Run("unknown item id", func(t *testing.T) {
		id := uuid.New()
		_, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2003", normalize.TrackingUpdate{OrderItemID: &id})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnresolvedCorrelation))
	})
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	svc, _ := newShipmentService(t)
	_, err := svc.RecordTrackingEvent(context.Background(), "dhl", "ORD-missing", normalize.TrackingUpdate{TrackingNumber: "X"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestEventsAreFilteredAndMerged(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, _ := dbtest.SeedOrder(t, conn, "ORD-2005", "10.00", "USD", dbtest.ItemSeed{SKU: "A", LineTotal: "10.00"})
	markPaid(t, conn, order)
	ctx := context.Background()

	first := []normalize.TrackingEvent{
		{StatusCode: "PICKED_UP", OccurredAt: ts("2026-03-01T10:00:00Z")},
		{StatusCode: "", OccurredAt: ts("2026-03-01T11:00:00Z")},
		{StatusCode: "IN_TRANSIT"},
	}
	_, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2005", normalize.TrackingUpdate{TrackingNumber: "TRK-E", Events: first})
	require.NoError(t, err)

	second := []normalize.TrackingEvent{
		{StatusCode: "PICKED_UP", OccurredAt: ts("2026-03-01T10:00:00Z")},
		{StatusCode: "ARRIVED", OccurredAt: ts("2026-03-01T09:00:00Z")},
	}
	res, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2005", normalize.TrackingUpdate{TrackingNumber: "TRK-E", Events: second})
	require.NoError(t, err)

	var events []normalize.TrackingEvent
	require.NoError(t, json.Unmarshal(res.Shipment.Events, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "ARRIVED", events[0].StatusCode)
	assert.Equal(t, "PICKED_UP", events[1].StatusCode)
}

func TestPostageRecordsShippingVariance(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2006", "30.00", "USD",
		dbtest.ItemSeed{SKU: "A", LineTotal: "10.00"},
		dbtest.ItemSeed{SKU: "B", LineTotal: "20.00"},
	)
	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("shipping_total", decimal.RequireFromString("8.00")).Error)
	ctx := context.Background()

	for i, amount := range []string{"4.25", "5.10"} {
		id := items[i].ID
		postage := decimal.RequireFromString(amount)
		_, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2006", normalize.TrackingUpdate{
			OrderItemID:     &id,
			TrackingNumber:  "TRK-P" + amount,
			PostageAmount:   &postage,
			PostageCurrency: "USD",
		})
		require.NoError(t, err)
	}

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.ShippingTotalActual)
	require.NotNil(t, stored.ShippingVariance)
	assert.True(t, stored.ShippingTotalActual.Equal(decimal.RequireFromString("9.35")))
	assert.True(t, stored.ShippingVariance.Equal(decimal.RequireFromString("1.35")))
}

func TestShippedWithoutTrackingNumberSignalsOnce(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2010", "25.00", "USD", dbtest.ItemSeed{SKU: "A", LineTotal: "25.00"})
	markPaid(t, conn, order)
	ctx := context.Background()

	update := normalize.TrackingUpdate{Carrier: "dhl", ShippedAt: ts("2026-03-01T10:00:00Z")}
	res, err := svc.RecordTrackingEvent(ctx, "dhl", "ORD-2010", update)
	require.NoError(t, err)
	assert.True(t, res.Shipped)
	assert.Nil(t, res.Shipment)

	_, err = svc.RecordTrackingEvent(ctx, "dhl", "ORD-2010", update)
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventOrderShipped).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.AggregateOrderItem, events[0].AggregateType)
	assert.Equal(t, items[0].ID, events[0].AggregateID)
	assert.NotContains(t, string(events[0].Payload), "shipment_id")
	assert.Contains(t, string(events[0].Payload), `"carrier":"dhl"`)

	var shipments int64
	require.NoError(t, conn.Model(&models.Shipment{}).Count(&shipments).Error)
	assert.Zero(t, shipments)
}

func TestDeliveredWithoutTrackingNumberAdvancesPartialOrder(t *testing.T) {
	svc, conn := newShipmentService(t)
	order, items := dbtest.SeedOrder(t, conn, "ORD-2011", "30.00", "USD",
		dbtest.ItemSeed{SKU: "A", LineTotal: "10.00"},
		dbtest.ItemSeed{SKU: "B", LineTotal: "20.00"},
	)
	markPaid(t, conn, order)
	ctx := context.Background()

	res, err := svc.RecordTrackingEvent(ctx, "ups", "ORD-2011", normalize.TrackingUpdate{
		OrderItemID: &items[0].ID,
		DeliveredAt: ts("2026-03-02T08:00:00Z"),
	})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.False(t, res.OrderFulfilled)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderShipped))
	assert.Zero(t, countEvents(t, conn, enums.EventOrderDelivered))

	res, err = svc.RecordTrackingEvent(ctx, "ups", "ORD-2011", normalize.TrackingUpdate{
		OrderItemID: &items[1].ID,
		DeliveredAt: ts("2026-03-02T09:00:00Z"),
	})
	require.NoError(t, err)
	assert.True(t, res.OrderFulfilled)

	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilled, stored.Status)
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderShipped))
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderDelivered))
}
