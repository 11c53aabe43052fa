package korapay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(config.KorapayConfig{
		BaseURL:   "http://korapay.test",
		SecretKey: "sk_test_123",
	}, WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)
	return client
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestVerifyChargeRequest(t *testing.T) {
	var capturedURL, capturedAuth string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		return respond(http.StatusOK, `{"status":true,"message":"Charge retrieved","data":{"reference":"ORD-1001","payment_reference":"KPY-1","status":"success","amount":"150.00","currency":"USD"}}`), nil
	})

	charge, err := client.VerifyCharge(context.Background(), "ORD-1001")
	require.NoError(t, err)
	require.Equal(t, "http://korapay.test/merchant/api/v1/charges/ORD-1001", capturedURL)
	require.Equal(t, "Bearer sk_test_123", capturedAuth)
	require.Equal(t, "success", charge.Status)
	require.Equal(t, "KPY-1", charge.PaymentReference)
}

func TestVerifyChargeNotFound(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusNotFound, `{"status":false,"message":"not found"}`), nil
	})
	_, err := client.VerifyCharge(context.Background(), "missing")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestInitiateRefundSendsIdempotentReference(t *testing.T) {
	var sent map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "/merchant/api/v1/refunds/initiate", req.URL.Path)
		require.NoError(t, json.NewDecoder(req.Body).Decode(&sent))
		return respond(http.StatusOK, `{"status":true,"data":{"reference":"refund-job-1","payment_reference":"KPY-1","status":"processing","amount":"40.00","currency":"USD"}}`), nil
	})

	refund, err := client.InitiateRefund(context.Background(), RefundRequest{
		PaymentReference: "KPY-1",
		Reference:        "refund-job-1",
		Amount:           decimal.RequireFromString("40.00"),
		Reason:           "fulfillment failed",
	})
	require.NoError(t, err)
	require.Equal(t, "refund-job-1", sent["reference"])
	require.Equal(t, "processing", refund.Status)
	require.True(t, refund.Amount.Equal(decimal.RequireFromString("40")))
}

func TestInitiateRefundValidatesAmount(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := client.InitiateRefund(context.Background(), RefundRequest{PaymentReference: "KPY-1", Reference: "r", Amount: decimal.Zero})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestVerifySignatureCoversDataObject(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-1001", "status":"success","amount":150}}`)
	mac := hmac.New(sha256.New, []byte("sk_test_123"))
	mac.Write([]byte(`{"reference":"ORD-1001","status":"success","amount":150}`))
	signature := hex.EncodeToString(mac.Sum(nil))

	require.True(t, VerifySignature(body, signature, "sk_test_123"))
	require.False(t, VerifySignature(body, signature, "other"))
	require.False(t, VerifySignature(body, "", "sk_test_123"))
	require.False(t, VerifySignature([]byte(`not json`), signature, "sk_test_123"))
}

func TestSigningSecretFallsBackToSecretKey(t *testing.T) {
	client := newTestClient(t, nil)
	require.Equal(t, "sk_test_123", client.SigningSecret())
}
