package codeindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/redis"
)

type redisIndexClient interface {
	ReplaceHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGet(ctx context.Context, key, field string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	CodeIndexKey(step int64) string
	CodeIndexMetaKey() string
}

// RedisStore shares the index between API replicas. Each step lives in its
// own hash (code -> comma separated ids) that is replaced by RENAME and
// expires once it leaves every drift window it can belong to.
type RedisStore struct {
	client redisIndexClient
	ttl    time.Duration
}

// NewRedisStore sizes key expiry from the step length and drift.
func NewRedisStore(client redisIndexClient, step time.Duration, driftSteps int) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if step <= 0 {
		return nil, errors.New("step must be positive")
	}
	return &RedisStore{
		client: client,
		ttl:    time.Duration(2*driftSteps+2) * step,
	}, nil
}

func (r *RedisStore) Publish(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot required")
	}
	for _, step := range snap.Steps {
		slots := snap.Slots(step)
		fields := make(map[string]string, len(slots))
		for code, ids := range slots {
			fields[code] = joinIDs(ids)
		}
		if err := r.client.ReplaceHash(ctx, r.client.CodeIndexKey(step), fields, r.ttl); err != nil {
			return fmt.Errorf("publish step %d: %w", step, err)
		}
	}
	if err := r.client.Set(ctx, r.client.CodeIndexMetaKey(), strconv.FormatInt(snap.Step, 10), r.ttl); err != nil {
		return fmt.Errorf("publish built step: %w", err)
	}
	return nil
}

func (r *RedisStore) Lookup(ctx context.Context, code string, steps []int64) (Match, error) {
	raw, err := r.client.Get(ctx, r.client.CodeIndexMetaKey())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Match{}, ErrNotReady
		}
		return Match{}, fmt.Errorf("read built step: %w", err)
	}
	built, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Match{}, fmt.Errorf("parse built step %q: %w", raw, err)
	}

	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, step := range steps {
		value, err := r.client.HGet(ctx, r.client.CodeIndexKey(step), code)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return Match{}, fmt.Errorf("lookup step %d: %w", step, err)
		}
		parsed, err := splitIDs(value)
		if err != nil {
			return Match{}, err
		}
		ids = appendDistinct(ids, seen, parsed...)
	}
	return Match{BuiltStep: built, Candidates: ids}, nil
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func splitIDs(value string) ([]uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("corrupt index entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
