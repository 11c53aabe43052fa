// Package korapay talks to the Korapay merchant API for charge verification
// and refunds, and verifies Korapay webhook signatures.
package korapay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	ProviderName = "korapay"

	defaultTimeout        = 30 * time.Second
	responseBodyReadLimit = 4096
)

var errSecretKeyRequired = errors.New("korapay secret key is required")

// Charge is the charge object shared by webhooks and the verify endpoint.
type Charge struct {
	Reference        string            `json:"reference"`
	PaymentReference string            `json:"payment_reference"`
	Status           string            `json:"status"`
	Amount           json.RawMessage   `json:"amount"`
	AmountPaid       json.RawMessage   `json:"amount_paid,omitempty"`
	Fee              json.RawMessage   `json:"fee,omitempty"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type RefundRequest struct {
	PaymentReference string          `json:"payment_reference"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason,omitempty"`
}

type Refund struct {
	Reference        string          `json:"reference"`
	PaymentReference string          `json:"payment_reference"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	signingSecret string
	metrics       *metrics.ProviderMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics records call outcomes on the provider metrics.
func WithMetrics(m *metrics.ProviderMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(cfg config.KorapayConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		secretKey:     secret,
		signingSecret: cfg.SigningSecret(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("korapay base url is required")
	}
	return client, nil
}

// SigningSecret is the key Korapay signs webhooks with.
func (c *Client) SigningSecret() string {
	return c.signingSecret
}

// VerifyCharge fetches the authoritative charge state for a reference.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*Charge, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	var charge Charge
	path := "/merchant/api/v1/charges/" + url.PathEscape(trimmed)
	if err := c.do(ctx, "verify_charge", http.MethodGet, path, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// InitiateRefund requests a refund. Reference doubles as Korapay's idempotency key.
func (c *Client) InitiateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(req.PaymentReference) == "" || strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund payment reference and reference are required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	var refund Refund
	if err := c.do(ctx, "initiate_refund", http.MethodPost, "/merchant/api/v1/refunds/initiate", req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveCall(ProviderName, operation, err, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, marshalErr, fmt.Sprintf("marshal korapay %s request", operation))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build korapay %s request", operation))
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute korapay %s request", operation))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("korapay %s: resource not found", operation))
	case resp.StatusCode == http.StatusUnauthorized:
		return pkgerrors.New(pkgerrors.CodeProviderAuth, fmt.Sprintf("korapay %s: credentials rejected", operation))
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("korapay %s failed", operation))
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode korapay %s response", operation))
	}
	if !env.Status {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("korapay %s rejected: %s", operation, env.Message))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode korapay %s data", operation))
	}
	return nil
}
