package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/redis"
)

// Manager deduplicates at-least-once deliveries for one consumer. A claim is a
// Redis SETNX on lt:idempotency:evt:<consumer>:<event_id> holding the claim
// time; it expires after ttl so the keyspace stays bounded.
type Manager struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

func NewManager(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, consumer: consumer, ttl: ttl, now: time.Now}, nil
}

// Begin claims eventID. It reports false when an earlier delivery already
// holds the claim, in which case the caller should ack without work.
func (m *Manager) Begin(ctx context.Context, eventID uuid.UUID) (bool, error) {
	key, err := m.key(eventID)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339Nano), m.ttl)
}

// Release drops the claim so a redelivery of eventID is processed again.
func (m *Manager) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := m.key(eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+m.consumer, eventID.String()), nil
}
