// Package idempotency dedupes redelivered work with Redis claim keys.
//
// A claim is a SETNX whose value is the claiming process's owner token. A
// failed handler releases only its own claim, so a concurrent redelivery that
// has already re-claimed the key keeps it.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a claim survives when the caller passes zero.
const DefaultTTL = 7 * 24 * time.Hour

// Store is the Redis surface a Guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// Guard claims ids within one scope.
type Guard struct {
	store Store
	ttl   time.Duration
	scope string
	owner string
}

// NewGuard builds a guard for scope. Each guard carries its own owner token.
func NewGuard(store Store, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl, scope: scope, owner: uuid.NewString()}, nil
}

// Claim reports true when id was already claimed; otherwise it claims it.
func (g *Guard) Claim(ctx context.Context, id string) (bool, error) {
	key, err := g.key(id)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, g.owner, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !set, nil
}

// Release drops this guard's claim on id so a redelivery runs again. A claim
// held by another owner is left alone.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	if _, err := g.store.ReleaseIfOwner(ctx, key, g.owner); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *Guard) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("id is required")
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}

// Manager tracks processed outbox event ids per consumer. Keys follow
// `evt:processed:<consumer>:<event_id>` under the store's idempotency prefix.
type Manager struct {
	store  Store
	ttl    time.Duration
	guards map[string]*Guard
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, guards: map[string]*Guard{}}, nil
}

// Consumers lists the names the manager will accept. Called once at startup
// so the guard map is read-only afterwards.
func (m *Manager) Consumers(names ...string) error {
	for _, name := range names {
		g, err := NewGuard(m.store, m.ttl, "evt:processed:"+name)
		if err != nil {
			return fmt.Errorf("consumer %q: %w", name, err)
		}
		m.guards[name] = g
	}
	return nil
}

// CheckAndMarkProcessed returns true if the event has already been processed
// by consumer and otherwise claims it.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	g, err := m.guard(consumer, eventID)
	if err != nil {
		return false, err
	}
	return g.Claim(ctx, eventID.String())
}

// Delete releases consumer's claim on eventID.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	g, err := m.guard(consumer, eventID)
	if err != nil {
		return err
	}
	return g.Release(ctx, eventID.String())
}

func (m *Manager) guard(consumer string, eventID uuid.UUID) (*Guard, error) {
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return nil, errors.New("event id is required")
	}
	g, ok := m.guards[consumer]
	if !ok {
		return nil, fmt.Errorf("consumer %q is not registered", consumer)
	}
	return g, nil
}
