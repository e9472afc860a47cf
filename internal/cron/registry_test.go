package cron

import (
	"context"
	"slices"
	"testing"
)

type namedJob struct {
	name string
	tag  int
}

func (j *namedJob) Name() string              { return j.name }
func (j *namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	reconcile := &namedJob{name: "loyalty-reconcile"}
	retention := &namedJob{name: "outbox-retention"}
	registry := NewRegistry(reconcile, nil, retention)

	if got := registry.Names(); !slices.Equal(got, []string{"loyalty-reconcile", "outbox-retention"}) {
		t.Fatalf("unexpected names %v", got)
	}

	jobs := registry.Jobs()
	jobs[0] = nil
	if registry.Jobs()[0] != reconcile {
		t.Fatalf("Jobs must return a copy")
	}
}

func TestRegistryReplacesDuplicateNameInPlace(t *testing.T) {
	first := &namedJob{name: "code-index", tag: 1}
	other := &namedJob{name: "outbox-retention"}
	second := &namedJob{name: "code-index", tag: 2}

	registry := NewRegistry(first, other)
	registry.Register(second)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != second {
		t.Fatalf("expected replacement to keep the original slot")
	}
}
