package codeindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
)

type JobParams struct {
	Builder           *Builder
	Publisher         Publisher
	Metrics           *metrics.CodeIndexMetrics
	Logger            *logger.Logger
	CollisionWarnRate float64
}

// Job rebuilds and publishes the index. It is scheduled once per step.
type Job struct {
	builder   *Builder
	publisher Publisher
	metrics   *metrics.CodeIndexMetrics
	logg      *logger.Logger
	warnRate  float64
	now       func() time.Time
}

func NewJob(params JobParams) (*Job, error) {
	if params.Builder == nil {
		return nil, errors.New("builder required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Job{
		builder:   params.Builder,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		logg:      params.Logger,
		warnRate:  params.CollisionWarnRate,
		now:       time.Now,
	}, nil
}

func (j *Job) Name() string { return "code-index-rebuild" }

func (j *Job) Run(ctx context.Context) error {
	start := time.Now()
	snap, err := j.builder.Build(ctx, j.now())
	if err != nil {
		return fmt.Errorf("build code index: %w", err)
	}
	if err := j.publisher.Publish(ctx, snap); err != nil {
		return fmt.Errorf("publish code index: %w", err)
	}
	took := time.Since(start)
	rate := snap.Stats.CollisionRate()
	j.metrics.ObserveBuild(snap.Step, snap.Stats.Entries, snap.Stats.Collisions, rate, took)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"step":           snap.Step,
		"customers":      snap.Stats.Customers,
		"skipped":        snap.Stats.Skipped,
		"entries":        snap.Stats.Entries,
		"collisions":     snap.Stats.Collisions,
		"collision_rate": rate,
		"duration_ms":    took.Milliseconds(),
	})
	if j.warnRate > 0 && rate > j.warnRate {
		j.logg.Warn(logCtx, "code index collision rate above threshold; increase code digits")
	} else {
		j.logg.Debug(logCtx, "code index published")
	}
	return nil
}
