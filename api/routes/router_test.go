package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/internal/shipments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubPayments struct {
	calls int
}

func (s *stubPayments) HandleProviderEvent(ctx context.Context, provider enums.PaymentProvider, eventID string, event normalize.PaymentEvent) (payments.Result, error) {
	s.calls++
	return payments.Result{}, nil
}

type stubTracking struct{}

func (stubTracking) RecordTrackingEvent(ctx context.Context, provider, orderNumber string, update normalize.TrackingUpdate) (shipments.Result, error) {
	return shipments.Result{}, nil
}

type stubFulfillment struct {
	calls int
}

func (s *stubFulfillment) Handle(ctx context.Context, body []byte) error {
	s.calls++
	return nil
}

func testRouter(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Env: "dev", MaxBodyBytes: 64},
		Payments: config.PaymentsConfig{WebhookSecret: "whsec_generic"},
	}
	deps.Config = cfg
	deps.Logger = logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	if deps.DB == nil {
		deps.DB = stubPinger{}
	}
	if deps.Redis == nil {
		deps.Redis = stubPinger{}
	}
	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	return NewRouter(deps)
}

func do(router http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	router := testRouter(t, Dependencies{})
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health/ready", "", nil).Code)

	router = testRouter(t, Dependencies{Redis: stubPinger{err: errors.New("down")}})
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/health/ready", "", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	router := testRouter(t, Dependencies{})
	rec := do(router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	router := testRouter(t, Dependencies{})
	rec := do(router, http.MethodGet, "/api/public/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestPublicPingListsAcceptedWebhooks(t *testing.T) {
	router := testRouter(t, Dependencies{
		Fulfillment: map[enums.FulfillmentProvider]webhookcontrollers.FulfillmentProvider{
			enums.FulfillmentProviderCJ: &stubFulfillment{},
		},
		Tracking: stubTracking{},
	})
	rec := do(router, http.MethodGet, "/api/public/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Status   string              `json:"status"`
			Webhooks map[string][]string `json:"webhooks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, []string{"generic"}, body.Data.Webhooks["payments"])
	assert.Equal(t, []string{"cjdropship"}, body.Data.Webhooks["fulfillment"])
	assert.NotContains(t, body.Data.Webhooks, "tracking", "tracking needs a secret")
}

func TestPaymentWebhookRouteUsesConfiguredSecret(t *testing.T) {
	svc := &stubPayments{}
	router := testRouter(t, Dependencies{Payments: svc})
	body := `{"event_id":"e1","order_number":"O1"}`

	rec := do(router, http.MethodPost, "/api/v1/webhooks/payments/generic", body, map[string]string{
		webhookcontrollers.SignatureHeader: webhookcontrollers.Sign([]byte(body), "whsec_generic"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.calls)

	rec = do(router, http.MethodPost, "/api/v1/webhooks/payments/generic", body, map[string]string{
		webhookcontrollers.SignatureHeader: webhookcontrollers.Sign([]byte(body), "wrong"),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookBodyLimit(t *testing.T) {
	svc := &stubPayments{}
	router := testRouter(t, Dependencies{Payments: svc})
	body := `{"event_id":"` + strings.Repeat("x", 128) + `"}`

	rec := do(router, http.MethodPost, "/api/v1/webhooks/payments/generic", body, map[string]string{
		webhookcontrollers.SignatureHeader: webhookcontrollers.Sign([]byte(body), "whsec_generic"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestFulfillmentAndTrackingRoutes(t *testing.T) {
	cj := &stubFulfillment{}
	router := testRouter(t, Dependencies{
		Fulfillment: map[enums.FulfillmentProvider]webhookcontrollers.FulfillmentProvider{
			enums.FulfillmentProviderCJ: {Service: cj},
		},
		Tracking: stubTracking{},
	})

	rec := do(router, http.MethodPost, "/api/v1/webhooks/fulfillment/cjdropship", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cj.calls)

	rec = do(router, http.MethodPost, "/api/v1/webhooks/tracking/ups", `{"order_number":"O1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVerifyRouteWithoutVerifier(t *testing.T) {
	router := testRouter(t, Dependencies{})
	rec := do(router, http.MethodPost, "/api/v1/payments/korapay/KPY-1/verify", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
