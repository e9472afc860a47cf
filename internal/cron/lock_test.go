package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.values[key] != expected {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func TestRedisLockSingleHolder(t *testing.T) {
	const key = "lt:cron-worker:lock:test:code-index"
	store := newFakeLockStore()
	ctx := context.Background()
	first, err := NewRedisLock(store, key, 30*time.Second)
	require.NoError(t, err)
	second, err := NewRedisLock(store, key, 30*time.Second)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, store.ttls[key])
	require.True(t, strings.HasPrefix(store.values[key], first.host+"/"))

	ok, _ = second.Acquire(ctx)
	require.False(t, ok)
	require.NoError(t, second.Release(ctx))
	require.Contains(t, store.values, key, "non-holder release must not delete the lease")

	require.NoError(t, first.Release(ctx))
	ok, _ = second.Acquire(ctx)
	require.True(t, ok)
}

func TestRedisLockLeavesTakenOverLease(t *testing.T) {
	const key = "lt:cron-worker:lock:test:daily"
	store := newFakeLockStore()
	lock, err := NewRedisLock(store, key, 0)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, lock.ttl)

	ctx := context.Background()
	ok, _ := lock.Acquire(ctx)
	require.True(t, ok)

	// Lease expired and another replica took it.
	store.values[key] = "other-host/abc"
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "other-host/abc", store.values[key])
}

func TestRedisLockSurfacesStoreErrors(t *testing.T) {
	store := newFakeLockStore()
	lock, _ := NewRedisLock(store, "lt:lock", time.Minute)
	store.err = errors.New("connection refused")

	_, err := lock.Acquire(context.Background())
	require.ErrorIs(t, err, store.err)

	_, err = NewRedisLock(nil, "lt:lock", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(store, "", time.Minute)
	require.Error(t, err)
}
