package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

// scriptedStrategy answers per SKU and records every call.
type scriptedStrategy struct {
	provider enums.FulfillmentProvider
	mu       sync.Mutex
	results  map[string]Result
	errs     map[string]error
	calls    []string
}

func (s *scriptedStrategy) Provider() enums.FulfillmentProvider { return s.provider }

func (s *scriptedStrategy) Dispatch(_ context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Item.SKU)
	if err := s.errs[req.Item.SKU]; err != nil {
		return Result{}, err
	}
	if result, ok := s.results[req.Item.SKU]; ok {
		return result, nil
	}
	return Result{Status: enums.FulfillmentResultSucceeded, ExternalReference: "ext-" + req.Item.SKU}, nil
}

// flakyTracking fails the first n tracking applications.
type flakyTracking struct {
	inner    trackingApplier
	failures int
}

func (f *flakyTracking) ApplyTracking(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, update normalize.TrackingUpdate) (shipments.Result, error) {
	if f.failures > 0 {
		f.failures--
		return shipments.Result{}, errors.New("transient db error")
	}
	return f.inner.ApplyTracking(ctx, tx, order, item, update)
}

func newCoordinator(t *testing.T, strategies ...Strategy) (Coordinator, *gorm.DB) {
	t.Helper()
	return newCoordinatorWithTracking(t, nil, strategies...)
}

func newCoordinatorWithTracking(t *testing.T, tracking *flakyTracking, strategies ...Strategy) (Coordinator, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	orderSvc, err := orders.NewService(orders.NewRepository(conn))
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)
	shipmentSvc, err := shipments.NewService(shipments.ServiceParams{
		Tx:        client,
		Shipments: shipments.NewRepository(conn),
		Orders:    orderSvc,
		Outbox:    outboxSvc,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	var applier trackingApplier = shipmentSvc
	if tracking != nil {
		tracking.inner = shipmentSvc
		applier = tracking
	}
	registry, err := NewRegistry(strategies...)
	require.NoError(t, err)
	coord, err := NewCoordinator(CoordinatorParams{
		Tx:          client,
		Jobs:        NewRepository(conn),
		Orders:      orderSvc,
		Shipments:   applier,
		Outbox:      outboxSvc,
		Strategies:  registry,
		Concurrency: 2,
		AutoRefund:  true,
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return coord, conn
}

func seedPaidOrder(t *testing.T, conn *gorm.DB, number string, items ...dbtest.ItemSeed) (models.Order, []models.OrderItem) {
	t.Helper()
	order, created := dbtest.SeedOrder(t, conn, number, "30.00", "USD", items...)
	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"status": enums.OrderStatusPaid, "payment_status": enums.OrderPaymentStatusPaid}).Error)
	return order, created
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func loadItem(t *testing.T, conn *gorm.DB, id uuid.UUID) models.OrderItem {
	t.Helper()
	var item models.OrderItem
	require.NoError(t, conn.First(&item, "id = ?", id).Error)
	return item
}

func loadJob(t *testing.T, conn *gorm.DB, itemID uuid.UUID) models.FulfillmentJob {
	t.Helper()
	var job models.FulfillmentJob
	require.NoError(t, conn.First(&job, "order_item_id = ?", itemID).Error)
	return job
}

func TestOneItemFailsOtherSucceeds(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{
		provider: cj,
		results: map[string]Result{
			"A": {Status: enums.FulfillmentResultFailed, Error: "out of stock"},
		},
	}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3001",
		dbtest.ItemSeed{SKU: "A", LineTotal: "10.00", Provider: &cj},
		dbtest.ItemSeed{SKU: "B", LineTotal: "20.00", Provider: &cj},
	)

	summary, err := coord.DispatchForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)

	assert.Equal(t, enums.ItemFulfillmentFailed, loadItem(t, conn, items[0].ID).FulfillmentStatus)
	assert.Equal(t, enums.ItemFulfillmentFulfilled, loadItem(t, conn, items[1].ID).FulfillmentStatus)

	failedJob := loadJob(t, conn, items[0].ID)
	assert.Equal(t, enums.FulfillmentJobFailed, failedJob.Status)
	require.NotNil(t, failedJob.LastError)
	assert.Equal(t, "out of stock", *failedJob.LastError)
	assert.Nil(t, failedJob.FulfilledAt)

	okJob := loadJob(t, conn, items[1].ID)
	assert.Equal(t, enums.FulfillmentJobSucceeded, okJob.Status)
	require.NotNil(t, okJob.FulfilledAt)
	require.NotNil(t, okJob.ExternalReference)
	assert.Equal(t, "ext-B", *okJob.ExternalReference)

	var alerts []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventFulfillmentFailed).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, failedJob.ID, alerts[0].AggregateID)
	assert.Contains(t, string(alerts[0].Payload), items[0].ID.String())

	var refunds []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventRefundRequested).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, items[0].ID, refunds[0].AggregateID)
}

func TestDispatchIsIdempotentPerItem(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{provider: cj}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3002", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})
	ctx := context.Background()

	_, err := coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	summary, err := coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)

	assert.Len(t, strategy.calls, 1)
	var attempts []models.FulfillmentAttempt
	require.NoError(t, conn.Where("fulfillment_job_id = ?", loadJob(t, conn, items[0].ID).ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
}

func loadAttempts(t *testing.T, conn *gorm.DB, jobID uuid.UUID) []models.FulfillmentAttempt {
	t.Helper()
	var attempts []models.FulfillmentAttempt
	require.NoError(t, conn.Where("fulfillment_job_id = ?", jobID).Order("attempt_number ASC").Find(&attempts).Error)
	return attempts
}

func TestFollowUpFailureKeepsAttemptAndResumesWithoutRedispatch(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{
		provider: cj,
		results: map[string]Result{
			"A": {Status: enums.FulfillmentResultSucceeded, ExternalReference: "CJ-901", TrackingNumber: "CJTRK-2", Carrier: "CJPacket"},
		},
	}
	coord, conn := newCoordinatorWithTracking(t, &flakyTracking{failures: 1}, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3010", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})
	ctx := context.Background()

	_, err := coord.DispatchForOrder(ctx, order.ID)
	require.ErrorContains(t, err, "transient db error")

	job := loadJob(t, conn, items[0].ID)
	assert.Equal(t, enums.FulfillmentJobSucceeded, job.Status)
	require.NotNil(t, job.ExternalReference)
	assert.Equal(t, "CJ-901", *job.ExternalReference)
	assert.Nil(t, job.AppliedAt)
	attempts := loadAttempts(t, conn, job.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.NotEmpty(t, attempts[0].Outcome)
	assert.Equal(t, enums.ItemFulfillmentPending, loadItem(t, conn, items[0].ID).FulfillmentStatus)

	summary, err := coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, strategy.calls, 1, "recorded attempt must not be dispatched again")
	assert.Len(t, loadAttempts(t, conn, job.ID), 1)

	assert.Equal(t, enums.ItemFulfillmentFulfilled, loadItem(t, conn, items[0].ID).FulfillmentStatus)
	assert.NotNil(t, loadJob(t, conn, items[0].ID).AppliedAt)
	var shipment models.Shipment
	require.NoError(t, conn.First(&shipment, "order_item_id = ?", items[0].ID).Error)
	assert.Equal(t, "CJTRK-2", shipment.TrackingNumber)
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderShipped))
	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)

	summary, err = coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, strategy.calls, 1)
}

func TestUnrecordedJobIsRedispatchedOnlyAfterLease(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{provider: cj}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3011", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})
	claimedAt := fixedNow.Add(-time.Minute)
	job := models.FulfillmentJob{
		OrderID:      order.ID,
		OrderItemID:  items[0].ID,
		Provider:     cj,
		Status:       enums.FulfillmentJobPending,
		DispatchedAt: &claimedAt,
	}
	require.NoError(t, conn.Create(&job).Error)
	ctx := context.Background()

	summary, err := coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, strategy.calls)

	require.NoError(t, conn.Model(&models.FulfillmentJob{}).Where("id = ?", job.ID).
		Update("dispatched_at", fixedNow.Add(-time.Hour)).Error)

	summary, err = coord.DispatchForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"A"}, strategy.calls)
	attempts := loadAttempts(t, conn, job.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, enums.FulfillmentJobSucceeded, loadJob(t, conn, items[0].ID).Status)
}

func TestStrategyErrorRecordsFailedAttempt(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{provider: cj, errs: map[string]error{"A": errors.New("cj unavailable")}}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3003", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})

	summary, err := coord.DispatchForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	job := loadJob(t, conn, items[0].ID)
	var attempt models.FulfillmentAttempt
	require.NoError(t, conn.First(&attempt, "fulfillment_job_id = ?", job.ID).Error)
	assert.Equal(t, string(enums.FulfillmentResultFailed), attempt.Status)
	require.NotNil(t, attempt.Error)
	assert.Equal(t, "cj unavailable", *attempt.Error)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
}

func TestProviderFallbackChain(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{provider: cj}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3004",
		dbtest.ItemSeed{SKU: "SUPPLIED", LineTotal: "10.00"},
		dbtest.ItemSeed{SKU: "ORPHAN", LineTotal: "20.00"},
	)
	supplier := models.Supplier{Name: "cj supplier", DefaultProvider: &cj}
	require.NoError(t, conn.Create(&supplier).Error)
	require.NoError(t, conn.Model(&models.OrderItem{}).Where("id = ?", items[0].ID).Update("supplier_id", supplier.ID).Error)

	summary, err := coord.DispatchForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []string{"SUPPLIED"}, strategy.calls)

	var jobs int64
	require.NoError(t, conn.Model(&models.FulfillmentJob{}).Where("order_item_id = ?", items[1].ID).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestTrackingAndSettlementFollowUps(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	postage := decimal.RequireFromString("3.20")
	strategy := &scriptedStrategy{
		provider: cj,
		results: map[string]Result{
			"A": {
				Status:             enums.FulfillmentResultSucceeded,
				ExternalReference:  "CJ-900",
				TrackingNumber:     "CJTRK-1",
				Carrier:            "CJPacket",
				PostageAmount:      &postage,
				PostageCurrency:    "USD",
				SettlementRequired: true,
			},
		},
	}
	coord, conn := newCoordinator(t, strategy)
	order, items := seedPaidOrder(t, conn, "ORD-3005", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})

	_, err := coord.DispatchForOrder(context.Background(), order.ID)
	require.NoError(t, err)

	var shipment models.Shipment
	require.NoError(t, conn.First(&shipment, "order_item_id = ?", items[0].ID).Error)
	assert.Equal(t, "CJTRK-1", shipment.TrackingNumber)
	require.NotNil(t, shipment.ShippedAt)

	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventOrderShipped))
	assert.EqualValues(t, 1, countEvents(t, conn, enums.EventProviderSettlementRequested))

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusFulfilling, stored.Status)
	require.NotNil(t, stored.ShippingTotalActual)
	assert.True(t, stored.ShippingTotalActual.Equal(postage))
}

func TestUnpaidOrderIsNotDispatched(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	strategy := &scriptedStrategy{provider: cj}
	coord, conn := newCoordinator(t, strategy)
	order, _ := dbtest.SeedOrder(t, conn, "ORD-3006", "30.00", "USD", dbtest.ItemSeed{SKU: "A", LineTotal: "30.00", Provider: &cj})

	summary, err := coord.DispatchForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, strategy.calls)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	_, err := NewRegistry(&scriptedStrategy{provider: cj}, &scriptedStrategy{provider: cj})
	assert.Error(t, err)
}

func TestResolveProviderPrefersItemOverride(t *testing.T) {
	cj := enums.FulfillmentProviderCJ
	manual := enums.FulfillmentProviderManual
	item := &models.OrderItem{
		FulfillmentProvider: &manual,
		Supplier:            &models.Supplier{DefaultProvider: &cj},
		Product:             &models.Product{DefaultProvider: &cj},
	}
	provider, ok := ResolveProvider(item)
	require.True(t, ok)
	assert.Equal(t, manual, provider)

	item.FulfillmentProvider = nil
	item.Supplier = nil
	provider, ok = ResolveProvider(item)
	require.True(t, ok)
	assert.Equal(t, cj, provider)

	item.Product = &models.Product{}
	_, ok = ResolveProvider(item)
	assert.False(t, ok)
}
