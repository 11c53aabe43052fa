// Package cj is a thin client for the CJ Dropshipping open API. Every call
// except token acquisition goes through providerauth so an expired token is
// refreshed once and the request replayed.
package cj

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/providerauth"
)

const (
	ProviderName = "cjdropship"

	accessTokenHeader       = "CJ-Access-Token"
	responseBodyReadLimit   = 4096
	codeSuccess             = 200
	defaultTimeout          = 60 * time.Second
	defaultAuthTimeout      = 10 * time.Second
	defaultTokenRefreshSkew = 10 * time.Minute
)

// authFailureCodes are CJ business codes that mean the access token was not accepted.
var authFailureCodes = map[int]struct{}{
	1600001: {},
	1600002: {},
	1600003: {},
}

var errAPIKeyRequired = errors.New("cj api key is required")

// APIError is a non-auth business failure reported in the CJ response envelope.
type APIError struct {
	Operation string
	Code      int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cj %s failed (code %d): %s", e.Operation, e.Code, e.Message)
}

type envelope struct {
	Code      int             `json:"code"`
	Result    bool            `json:"result"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	email       string
	apiKey      string
	authTimeout time.Duration
	now         func() time.Time
	auth        *providerauth.Client
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

// WithClock overrides the time source used for token expiry math.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type ClientParams struct {
	Config  config.CJConfig
	Store   providerauth.TokenStore
	Logger  *logger.Logger
	Metrics *metrics.ProviderMetrics
}

func NewClient(params ClientParams, opts ...Option) (*Client, error) {
	cfg := params.Config
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	skew := cfg.TokenRefreshSkew
	if skew <= 0 {
		skew = defaultTokenRefreshSkew
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		email:       strings.TrimSpace(cfg.Email),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		authTimeout: authTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("cj base url is required")
	}

	auth, err := providerauth.NewClient(providerauth.ClientParams{
		Provider:      ProviderName,
		Authenticator: client,
		Store:         params.Store,
		RefreshSkew:   skew,
		Logger:        params.Logger,
		Metrics:       params.Metrics,
		Now:           client.now,
	})
	if err != nil {
		return nil, fmt.Errorf("cj auth client: %w", err)
	}
	client.auth = auth
	return client, nil
}

// RefreshTokenIfExpiring lets the scheduler renew the token outside the request path.
func (c *Client) RefreshTokenIfExpiring(ctx context.Context) (bool, error) {
	return c.auth.RefreshIfExpiring(ctx)
}

// call performs an authenticated request and decodes envelope.data into out.
func (c *Client) call(ctx context.Context, operation, method, path string, body any, out any) error {
	return c.auth.Call(ctx, operation, func(ctx context.Context, accessToken string) error {
		return c.do(ctx, operation, method, path, accessToken, body, out)
	})
}

func (c *Client) do(ctx context.Context, operation, method, path, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("marshal cj %s request", operation))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build cj %s request", operation))
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set(accessTokenHeader, accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute cj %s request", operation))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return &providerauth.AuthError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("cj %s unavailable", operation))
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode cj %s response", operation))
	}
	if _, ok := authFailureCodes[env.Code]; ok {
		return &providerauth.AuthError{Status: resp.StatusCode, Code: fmt.Sprint(env.Code), Message: env.Message}
	}
	if env.Code != codeSuccess || !env.Result {
		return &APIError{Operation: operation, Code: env.Code, Message: env.Message, RequestID: env.RequestID}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode cj %s data", operation))
	}
	return nil
}
