package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubConsumer struct {
	ran bool
	err error
}

func (s *stubConsumer) Run(ctx context.Context) error {
	s.ran = true
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func newTestService(t *testing.T, redisErr error, c *stubConsumer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:       stubPinger{},
		Redis:    stubPinger{err: redisErr},
		PubSub:   stubPinger{},
		Consumer: c,
	})
	require.NoError(t, err)
	return svc
}

func TestRunStopsBeforeConsumingWhenDependencyIsDown(t *testing.T) {
	c := &stubConsumer{}
	err := newTestService(t, errors.New("dial tcp: refused"), c).Run(context.Background())
	require.ErrorContains(t, err, "redis ping failed")
	require.False(t, c.ran)
}

func TestRunReturnsContextErrorOnShutdown(t *testing.T) {
	c := &stubConsumer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestService(t, nil, c).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, c.ran)
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	c := &stubConsumer{err: errors.New("subscription deleted")}
	err := newTestService(t, nil, c).Run(context.Background())
	require.ErrorContains(t, err, "subscription deleted")
}
