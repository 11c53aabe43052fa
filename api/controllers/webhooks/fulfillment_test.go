package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cjwebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const fulfillmentRoute = "/api/v1/webhooks/fulfillment/{provider}"

type fakeFulfillmentService struct {
	bodies [][]byte
	err    error
}

func (f *fakeFulfillmentService) Handle(ctx context.Context, body []byte) error {
	f.bodies = append(f.bodies, body)
	return f.err
}

func cjProviders(svc *fakeFulfillmentService, secret string) map[enums.FulfillmentProvider]FulfillmentProvider {
	return map[enums.FulfillmentProvider]FulfillmentProvider{
		enums.FulfillmentProviderCJ: {
			Service:         svc,
			Verifier:        cjwebhook.Verifier{Secret: secret, Window: 5 * time.Minute},
			SignatureHeader: cjwebhook.SignatureHeader,
			TimestampHeader: cjwebhook.TimestampHeader,
		},
	}
}

func TestFulfillmentWebhookAcknowledgesAndForwards(t *testing.T) {
	body := []byte(`{"messageId":"m-1","type":"ORDER","params":{}}`)
	svc := &fakeFulfillmentService{}
	handler := FulfillmentWebhook(cjProviders(svc, "cj-secret"), nil, nil)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	rec := serve(http.MethodPost, fulfillmentRoute, handler, postJSON("/api/v1/webhooks/fulfillment/cjdropship", body, map[string]string{
		cjwebhook.TimestampHeader: ts,
		cjwebhook.SignatureHeader: cjwebhook.Sign(body, ts, "cj-secret"),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, svc.bodies, 1)
	assert.Equal(t, body, svc.bodies[0])
}

func TestFulfillmentWebhookAcknowledgesProcessingFailures(t *testing.T) {
	svc := &fakeFulfillmentService{err: errors.New("unresolved")}
	handler := FulfillmentWebhook(cjProviders(svc, ""), nil, nil)

	rec := serve(http.MethodPost, fulfillmentRoute, handler, postJSON("/api/v1/webhooks/fulfillment/cjdropship", []byte(`{"messageId":"m-2"}`), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Len(t, svc.bodies, 1)
}

func TestFulfillmentWebhookDropsUnsignedDeliveries(t *testing.T) {
	svc := &fakeFulfillmentService{}
	handler := FulfillmentWebhook(cjProviders(svc, "cj-secret"), nil, nil)

	rec := serve(http.MethodPost, fulfillmentRoute, handler, postJSON("/api/v1/webhooks/fulfillment/cjdropship", []byte(`{"messageId":"m-3"}`), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Empty(t, svc.bodies)
}

func TestFulfillmentWebhookUnknownProvider(t *testing.T) {
	handler := FulfillmentWebhook(cjProviders(&fakeFulfillmentService{}, ""), nil, nil)

	for _, path := range []string{"/api/v1/webhooks/fulfillment/shipbob", "/api/v1/webhooks/fulfillment/manual"} {
		rec := serve(http.MethodPost, fulfillmentRoute, handler, postJSON(path, []byte(`{}`), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
