package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
)

func TestGenericNormalizesCanonicalShape(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","order_number":"ORD-1001","amount":"150.00","currency":"ngn","status":"paid","provider_reference":"ref_9"}`)

	event, err := Payment(enums.PaymentProviderGeneric, body)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.EventID)
	assert.Equal(t, "ORD-1001", event.OrderNumber)
	assert.Equal(t, "ref_9", event.ProviderReference)
	require.NotNil(t, event.Amount)
	assert.Equal(t, "150", event.Amount.String())
	assert.Equal(t, "ngn", event.Currency)
	assert.Equal(t, "evt_1", event.IdempotencyKey)
	assert.JSONEq(t, string(body), string(event.Raw))
}

func TestGenericFallsBackToTransactionID(t *testing.T) {
	event, err := Generic([]byte(`{"transaction_id":"txn_5","order_number":"ORD-1","amount":10,"currency":"USD","status":"paid"}`))
	require.NoError(t, err)

	assert.Equal(t, "txn_5", event.EventID)
	assert.Equal(t, "txn_5", event.ProviderReference)
	require.NotNil(t, event.Amount)
	assert.Equal(t, "10", event.Amount.String())
}

func TestGenericKeepsNonNumericAmountForValidation(t *testing.T) {
	event, err := Generic([]byte(`{"event_id":"evt_2","order_number":"ORD-1","amount":"ten","currency":"USD"}`))
	require.NoError(t, err)

	assert.Nil(t, event.Amount)
	assert.Equal(t, "ten", event.AmountRaw)
}

func TestGenericRejectsInvalidJSON(t *testing.T) {
	_, err := Generic([]byte(`{"event_id":`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent))
}

func TestKorapayChargeSuccess(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-1001","payment_reference":"KPY-123","status":"success","amount":"150.00","currency":"NGN","metadata":{"order_number":"ORD-1001"}}}`)

	event, err := Korapay(body)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentProviderKorapay, event.Provider)
	assert.Equal(t, "korapay:charge.success:KPY-123", event.EventID)
	assert.Equal(t, "ORD-1001", event.OrderNumber)
	assert.Equal(t, "KPY-123", event.ProviderReference)
	assert.Equal(t, "success", event.Status)
	assert.Equal(t, "ORD-1001", event.IdempotencyKey)
	require.NotNil(t, event.Amount)
	assert.Equal(t, "150", event.Amount.String())
}

func TestKorapayOrderNumberFallsBackToReference(t *testing.T) {
	event := KorapayCharge(korapay.Charge{Reference: "ORD-77", Status: "failed", Amount: []byte(`99.5`), Currency: "NGN"}, "verify:ORD-77:failed")

	assert.Equal(t, "ORD-77", event.OrderNumber)
	assert.Equal(t, "ORD-77", event.ProviderReference)
	assert.Equal(t, "verify:ORD-77:failed", event.EventID)
}

func TestKorapayIgnoresRefundEvents(t *testing.T) {
	_, err := Korapay([]byte(`{"event":"refund.success","data":{"reference":"r"}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))
}

func TestVerifyEventID(t *testing.T) {
	assert.Equal(t, "verify:KPY-1:success", VerifyEventID(" KPY-1 ", "SUCCESS"))
}

func TestTrackingParsesPayload(t *testing.T) {
	update, err := Tracking(TrackingPayload{
		OrderNumber:     "ORD-1",
		OrderItemID:     "7d7b0b5e-5c1a-4b8e-9d52-0d2b9b1c7f10",
		TrackingNumber:  " TRK1 ",
		Status:          "Delivered",
		DeliveredAt:     "2026-03-02T10:00:00Z",
		PostageAmount:   []byte(`"4.50"`),
		PostageCurrency: "usd",
		Events: []TrackingEventPayload{
			{StatusCode: "DL", OccurredAt: "2026-03-02T10:00:00Z"},
			{StatusCode: "IT", OccurredAt: "not-a-time"},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, update.OrderItemID)
	assert.Equal(t, "TRK1", update.TrackingNumber)
	assert.Equal(t, "delivered", update.Status)
	assert.Equal(t, "USD", update.PostageCurrency)
	require.NotNil(t, update.PostageAmount)
	assert.Equal(t, "4.5", update.PostageAmount.String())
	require.NotNil(t, update.DeliveredAt)
	require.Len(t, update.Events, 2)
	assert.NotNil(t, update.Events[0].OccurredAt)
	assert.Nil(t, update.Events[1].OccurredAt)
}

func TestTrackingRejectsBadTimestamp(t *testing.T) {
	_, err := Tracking(TrackingPayload{OrderNumber: "ORD-1", ShippedAt: "yesterday"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent))
}

func TestCJOrderWebhook(t *testing.T) {
	hook, err := DecodeCJ([]byte(`{"messageId":"m-1","type":"order","messageType":"UPDATE","params":{"cjOrderId":"CJ123","orderNumber":"item-1","orderStatus":"shipped","trackNumber":"YT1","logisticName":"YunExpress"}}`))
	require.NoError(t, err)

	update, err := CJ(hook)
	require.NoError(t, err)

	assert.Equal(t, "m-1", update.MessageID)
	assert.Equal(t, "CJ123", update.ProviderOrderID)
	assert.Equal(t, "item-1", update.OrderReference)
	assert.True(t, update.HasTracking())
	assert.Equal(t, TrackingStatusShipped, update.Tracking.Status)
	assert.Equal(t, "YunExpress", update.Tracking.Carrier)
}

func TestCJLogisticWebhook(t *testing.T) {
	hook, err := DecodeCJ([]byte(`{"messageId":"m-2","type":"LOGISTIC","params":{"orderId":"CJ123","trackingNumber":"YT1","trackingStatus":12,"logisticsTrackEvents":[{"status":"DELIVERED","activity":"Delivered","eventTime":"2026-03-05 08:00:00"}]}}`))
	require.NoError(t, err)

	update, err := CJ(hook)
	require.NoError(t, err)

	assert.Equal(t, "12", update.Status)
	assert.Equal(t, TrackingStatusDelivered, update.Tracking.Status)
	require.Len(t, update.Tracking.Events, 1)
	require.NotNil(t, update.Tracking.Events[0].OccurredAt)
}

func TestCJRequiresMessageID(t *testing.T) {
	_, err := DecodeCJ([]byte(`{"type":"ORDER","params":{}}`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent))
}

func TestCJUnsupportedType(t *testing.T) {
	_, err := CJ(CJWebhook{MessageID: "m-3", Type: "STOCK"})
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}
