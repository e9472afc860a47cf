package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	registry := NewRegistry(&testJob{name: "success"}, &testJob{name: "fail", err: errors.New("boom")})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     &fakeLock{},
		Interval: 0,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if success, ok := jobs[0].(*testJob); ok {
		if success.runs != 1 {
			t.Fatalf("expected success job to run once, ran %d", success.runs)
		}
	} else {
		t.Fatalf("first job type mismatch")
	}
	if failure, ok := jobs[1].(*testJob); ok {
		if failure.runs != 1 {
			t.Fatalf("expected failure job to run once, ran %d", failure.runs)
		}
	} else {
		t.Fatalf("second job type mismatch")
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &testJob{name: "code-index-rebuild"}
	lock := &fakeLock{acquired: true}
	service, err := NewService(ServiceParams{
		Name:     "code-index",
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
	got, err := testutil.GatherAndCount(reg, "lealtad_cron_cycle_skipped_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected one skipped series, got %d", got)
	}
}

func TestServiceNextDelayAlignsToInterval(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Lock:     &LocalLock{},
		Interval: 30 * time.Second,
		Align:    true,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	service.now = func() time.Time { return time.Date(2026, 3, 2, 15, 4, 20, 0, time.UTC) }
	if got := service.nextDelay(); got != 10*time.Second {
		t.Fatalf("expected 10s until the next boundary, got %s", got)
	}

	service.align = false
	if got := service.nextDelay(); got != 30*time.Second {
		t.Fatalf("expected plain interval, got %s", got)
	}
}

func TestServiceNextDelayMatchesCodeSteps(t *testing.T) {
	gen, err := rotatingcode.New(rotatingcode.Options{Digits: 8, Step: 7 * time.Second, DriftSteps: 1, Pepper: "pepper"})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Lock:     &LocalLock{},
		Interval: 7 * time.Second,
		Align:    true,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	for _, now := range []time.Time{
		time.Unix(1000, 0),
		time.Unix(1001, 500*int64(time.Millisecond)),
		time.Date(2026, 3, 2, 15, 4, 20, 0, time.UTC),
	} {
		service.now = func() time.Time { return now }
		delay := service.nextDelay()
		want := gen.StepStart(gen.Step(now) + 1)
		if got := now.Add(delay); !got.Equal(want) {
			t.Fatalf("at %s: next run %s, next step starts %s", now, got, want)
		}
	}
}

func TestLocalLockIsExclusive(t *testing.T) {
	var lock LocalLock
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := lock.Acquire(ctx); ok {
		t.Fatal("expected second acquire to fail while held")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire after release to succeed")
	}
}
