package redis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestReplaceHashSwapsWholesale(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.CodeIndexKey(42)

	if err := client.ReplaceHash(ctx, key, map[string]string{"11112222": "a", "33334444": "b"}, time.Minute); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if got, err := client.HGet(ctx, key, "11112222"); err != nil || got != "a" {
		t.Fatalf("expected field a, got %q err=%v", got, err)
	}

	if err := client.ReplaceHash(ctx, key, map[string]string{"55556666": "c"}, time.Minute); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}
	if _, err := client.HGet(ctx, key, "11112222"); err != redis.Nil {
		t.Fatalf("expected stale field to disappear, got %v", err)
	}
	if got, _ := client.HGet(ctx, key, "55556666"); got != "c" {
		t.Fatalf("expected new field, got %q", got)
	}
	for k := range mock.hashes {
		if strings.Contains(k, ":build:") {
			t.Fatalf("scratch key %s left behind", k)
		}
	}
}

func TestReplaceHashEmptyDeletesKey(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.CodeIndexKey(7)

	if err := client.ReplaceHash(ctx, key, map[string]string{"1": "x"}, 0); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if err := client.ReplaceHash(ctx, key, nil, 0); err != nil {
		t.Fatalf("empty replace failed: %v", err)
	}
	if _, ok := mock.hashes[key]; ok {
		t.Fatalf("expected key removed")
	}
}

func TestCompareAndDeleteChecksOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	mock.data["lt:lock"] = "owner-a"

	removed, err := client.CompareAndDelete(ctx, "lt:lock", "owner-b")
	if err != nil || removed {
		t.Fatalf("expected no delete for other owner, removed=%v err=%v", removed, err)
	}
	if _, ok := mock.data["lt:lock"]; !ok {
		t.Fatal("key deleted by non-owner")
	}
	removed, err = client.CompareAndDelete(ctx, "lt:lock", "owner-a")
	if err != nil || !removed {
		t.Fatalf("expected owner delete, removed=%v err=%v", removed, err)
	}
	if _, err := (&Client{}).CompareAndDelete(ctx, "k", "v"); err != errNotInitialized {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "lt:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "lt:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CounterKey("hits"); got != "lt:counter:hits" {
		t.Fatalf("unexpected counter key %s", got)
	}
	if got := client.CodeIndexKey(123); got != "lt:codeidx:123" {
		t.Fatalf("unexpected code index key %s", got)
	}
	if got := client.CodeIndexMetaKey(); got != "lt:codeidx:built_step" {
		t.Fatalf("unexpected code index meta key %s", got)
	}
}

func TestOptionsFromConfigRequiresTarget(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 3 {
		t.Fatalf("expected db 3 from url, got %d", opts.DB)
	}
}

type mockCmdable struct {
	data        map[string]string
	hashes      map[string]map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   make(map[string]string),
		hashes: make(map[string]map[string]string),
		incr:   make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
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

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.hashes, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (m *mockCmdable) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	h, ok := m.hashes[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	v, ok := h[field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

// Eval only understands the compare-and-delete script.
func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script != compareAndDeleteScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockCmdable) Rename(ctx context.Context, key, newkey string) *redis.StatusCmd {
	h, ok := m.hashes[key]
	if !ok {
		return redis.NewStatusResult("", fmt.Errorf("ERR no such key"))
	}
	m.hashes[newkey] = h
	delete(m.hashes, key)
	return redis.NewStatusResult("OK", nil)
}
