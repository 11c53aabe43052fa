// Package providerauth wraps outbound provider calls with a shared access
// token, refreshing it ahead of expiry and once more when the provider rejects it.
package providerauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	RefreshProactive = "proactive"
	RefreshReactive  = "reactive"
	RefreshScheduled = "scheduled"
)

// Authenticator acquires a new token. previous is the last known token and may
// carry a refresh token the provider accepts instead of the API key.
type Authenticator interface {
	Authenticate(ctx context.Context, previous Token) (Token, error)
}

// CallFunc performs one provider request with the given access token.
type CallFunc func(ctx context.Context, accessToken string) error

type ClientParams struct {
	Provider      string
	Authenticator Authenticator
	Store         TokenStore
	RefreshSkew   time.Duration
	Logger        *logger.Logger
	Metrics       *metrics.ProviderMetrics
	Now           func() time.Time
}

type Client struct {
	provider string
	auth     Authenticator
	store    TokenStore
	skew     time.Duration
	logg     *logger.Logger
	metrics  *metrics.ProviderMetrics
	now      func() time.Time

	mu     sync.RWMutex
	cached Token
	group  singleflight.Group
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Provider == "" {
		return nil, errors.New("provider is required")
	}
	if params.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	if params.Store == nil {
		return nil, errors.New("token store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		provider: params.Provider,
		auth:     params.Authenticator,
		store:    params.Store,
		skew:     params.RefreshSkew,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Provider returns the provider name the client authenticates against.
func (c *Client) Provider() string {
	return c.provider
}

// Call runs fn with a valid token. An auth rejection triggers exactly one
// refresh followed by exactly one retry; a second rejection is returned as
// a PROVIDER_AUTH_ERROR.
func (c *Client) Call(ctx context.Context, operation string, fn CallFunc) error {
	start := c.now()
	err := c.call(ctx, operation, fn)
	c.metrics.ObserveCall(c.provider, operation, err, c.now().Sub(start))
	return err
}

func (c *Client) call(ctx context.Context, operation string, fn CallFunc) error {
	token, err := c.currentToken(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, token.AccessToken)
	if !IsAuthFailure(err) {
		return err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"provider":  c.provider,
		"operation": operation,
	})
	c.logg.Warn(logCtx, "provider rejected access token, refreshing once")

	token, err = c.refresh(ctx, RefreshReactive, token)
	if err != nil {
		return err
	}

	err = fn(ctx, token.AccessToken)
	if IsAuthFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeProviderAuth, err, fmt.Sprintf("%s rejected refreshed credentials for %s", c.provider, operation))
	}
	return err
}

// RefreshIfExpiring refreshes the token when it is missing or inside the skew
// window. It reports whether a refresh happened.
func (c *Client) RefreshIfExpiring(ctx context.Context) (bool, error) {
	token, ok, err := c.loadToken(ctx)
	if err != nil {
		return false, err
	}
	if ok && token.UsableAt(c.now(), c.skew) {
		return false, nil
	}
	if _, err := c.refresh(ctx, RefreshScheduled, token); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) currentToken(ctx context.Context) (Token, error) {
	token, ok, err := c.loadToken(ctx)
	if err != nil {
		return Token{}, err
	}
	if ok && token.UsableAt(c.now(), c.skew) {
		return token, nil
	}
	return c.refresh(ctx, RefreshProactive, token)
}

func (c *Client) loadToken(ctx context.Context) (Token, bool, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached.UsableAt(c.now(), c.skew) {
		return cached, true, nil
	}

	stored, ok, err := c.store.Load(ctx, c.provider)
	if err != nil {
		// The shared cache is an optimisation; fall back to what is in memory.
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "provider token store unavailable")
		return cached, cached.AccessToken != "", nil
	}
	if ok {
		c.setCached(stored)
		return stored, true, nil
	}
	return cached, cached.AccessToken != "", nil
}

// refresh collapses concurrent refreshes for the same stale token into one
// provider round trip.
func (c *Client) refresh(ctx context.Context, reason string, stale Token) (Token, error) {
	result, err, _ := c.group.Do(stale.AccessToken, func() (any, error) {
		c.mu.RLock()
		current := c.cached
		c.mu.RUnlock()
		if current.AccessToken != "" && current.AccessToken != stale.AccessToken && current.UsableAt(c.now(), c.skew) {
			return current, nil
		}

		token, err := c.auth.Authenticate(ctx, stale)
		c.metrics.ObserveTokenRefresh(c.provider, reason, err)
		if err != nil {
			if IsAuthFailure(err) {
				_ = c.store.Clear(ctx, c.provider)
				return Token{}, pkgerrors.Wrap(pkgerrors.CodeProviderAuth, err, fmt.Sprintf("%s credential refresh rejected", c.provider))
			}
			return Token{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s credential refresh failed", c.provider))
		}
		if token.AccessToken == "" {
			return Token{}, pkgerrors.New(pkgerrors.CodeProviderAuth, fmt.Sprintf("%s returned an empty access token", c.provider))
		}

		c.setCached(token)
		if err := c.store.Save(ctx, c.provider, token); err != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "failed to persist provider token")
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"provider":   c.provider,
			"reason":     reason,
			"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		}), "provider token refreshed")
		return token, nil
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

func (c *Client) setCached(token Token) {
	c.mu.Lock()
	c.cached = token
	c.mu.Unlock()
}
