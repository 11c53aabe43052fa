package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
)

func TestProviderTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.StoreProviderToken(ctx, "cjdropship", `{"access_token":"tok"}`, 10*time.Minute); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if ttl := mock.ttls["of:provider_token:cjdropship"]; ttl != 10*time.Minute {
		t.Fatalf("expected ttl to be forwarded, got %v", ttl)
	}
	token, err := client.GetProviderToken(ctx, "cjdropship")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if token != `{"access_token":"tok"}` {
		t.Fatalf("expected stored token, got %q", token)
	}

	if err := client.DeleteProviderToken(ctx, "cjdropship"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := client.GetProviderToken(ctx, "cjdropship"); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.IdempotencyKey("cj-webhook", "msg-1")

	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first setnx to win, got %v err=%v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected second setnx to lose, got %v err=%v", second, err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if _, err := client.ReleaseIfOwner(context.Background(), "of:lock:cron", "owner"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized from release, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.RedisConfig{
		URL:          "redis://:secret@cache.internal:6380/3",
		PoolSize:     20,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
	}
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 3 || opts.Password != "secret" {
		t.Fatalf("url settings not applied: %+v", opts)
	}
	if opts.PoolSize != 20 || opts.MinIdleConns != 4 || opts.DialTimeout != 2*time.Second {
		t.Fatalf("pool settings not filled: %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 5})
	if err != nil || opts.Addr != "localhost:6379" || opts.DB != 5 {
		t.Fatalf("address config: opts=%+v err=%v", opts, err)
	}

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "of:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.LockKey("cron"); got != "of:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.ProviderTokenKey("CJDropship"); got != "of:provider_token:cjdropship" {
		t.Fatalf("unexpected token key %s", got)
	}
	if got := client.IdempotencyKey("scope", ""); got != "of:idempotency:scope" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

type mockCmdable struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
