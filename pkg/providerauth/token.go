package providerauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Token is a provider access credential. RefreshToken is optional.
type Token struct {
	AccessToken      string    `json:"access_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// UsableAt reports whether the token can still be presented at now without
// falling inside the skew window before expiry.
func (t Token) UsableAt(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// CanRefreshAt reports whether the refresh token is still accepted.
func (t Token) CanRefreshAt(now time.Time) bool {
	if t.RefreshToken == "" {
		return false
	}
	return t.RefreshExpiresAt.IsZero() || now.Before(t.RefreshExpiresAt)
}

// TokenStore keeps tokens outside the request path so every replica shares one credential.
type TokenStore interface {
	Load(ctx context.Context, provider string) (Token, bool, error)
	Save(ctx context.Context, provider string, token Token) error
	Clear(ctx context.Context, provider string) error
}

type tokenCache interface {
	StoreProviderToken(ctx context.Context, provider, value string, ttl time.Duration) error
	GetProviderToken(ctx context.Context, provider string) (string, error)
	DeleteProviderToken(ctx context.Context, provider string) error
}

// RedisTokenStore persists tokens as JSON under the provider token namespace.
type RedisTokenStore struct {
	cache tokenCache
	now   func() time.Time
}

func NewRedisTokenStore(cache tokenCache) (*RedisTokenStore, error) {
	if cache == nil {
		return nil, errors.New("token cache is required")
	}
	return &RedisTokenStore{cache: cache, now: time.Now}, nil
}

func (s *RedisTokenStore) Load(ctx context.Context, provider string) (Token, bool, error) {
	raw, err := s.cache.GetProviderToken(ctx, provider)
	if errors.Is(err, goredis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("load %s token: %w", provider, err)
	}
	var token Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		// A corrupt entry behaves like a miss; the next refresh overwrites it.
		return Token{}, false, nil
	}
	return token, token.AccessToken != "", nil
}

func (s *RedisTokenStore) Save(ctx context.Context, provider string, token Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode %s token: %w", provider, err)
	}
	ttl := time.Duration(0)
	expiry := token.ExpiresAt
	if token.RefreshExpiresAt.After(expiry) {
		expiry = token.RefreshExpiresAt
	}
	if !expiry.IsZero() {
		ttl = expiry.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.cache.StoreProviderToken(ctx, provider, string(payload), ttl); err != nil {
		return fmt.Errorf("store %s token: %w", provider, err)
	}
	return nil
}

func (s *RedisTokenStore) Clear(ctx context.Context, provider string) error {
	if err := s.cache.DeleteProviderToken(ctx, provider); err != nil {
		return fmt.Errorf("clear %s token: %w", provider, err)
	}
	return nil
}
