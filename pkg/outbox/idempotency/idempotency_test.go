package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	claims  map[string]any
	ttls    map[string]time.Duration
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{claims: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	v, _ := f.claims[key].(string)
	return v, nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	if _, ok := f.claims[key]; ok {
		return false, nil
	}
	f.claims[key] = value
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.claims[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "lt:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.claims, k)
	}
	return nil
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, "external-state-worker", time.Hour)
	require.Error(t, err)
	_, err = NewManager(newFakeStore(), "", time.Hour)
	require.Error(t, err)
	_, err = NewManager(newFakeStore(), "external-state-worker", -time.Second)
	require.Error(t, err)
}

func TestBeginClaimsOncePerConsumer(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, "external-state-worker", 24*time.Hour)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	manager.now = func() time.Time { return fixed }

	eventID := uuid.New()
	claimed, err := manager.Begin(context.Background(), eventID)
	require.NoError(t, err)
	require.True(t, claimed)

	key := "lt:idempotency:evt:external-state-worker:" + eventID.String()
	require.Equal(t, fixed.Format(time.RFC3339Nano), store.claims[key])
	require.Equal(t, 24*time.Hour, store.ttls[key])

	claimed, err = manager.Begin(context.Background(), eventID)
	require.NoError(t, err)
	require.False(t, claimed)

	other, err := NewManager(store, "audit-worker", time.Hour)
	require.NoError(t, err)
	claimed, err = other.Begin(context.Background(), eventID)
	require.NoError(t, err)
	require.True(t, claimed, "claims are scoped per consumer")
}

func TestReleaseAllowsRedelivery(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, "external-state-worker", time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	_, err = manager.Begin(context.Background(), eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(context.Background(), eventID))

	claimed, err := manager.Begin(context.Background(), eventID)
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestBeginErrors(t *testing.T) {
	store := newFakeStore()
	store.failErr = errors.New("redis down")
	manager, err := NewManager(store, "external-state-worker", time.Hour)
	require.NoError(t, err)

	_, err = manager.Begin(context.Background(), uuid.New())
	require.Error(t, err)
	_, err = manager.Begin(context.Background(), uuid.Nil)
	require.Error(t, err)
}
