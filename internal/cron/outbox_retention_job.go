package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
)

const (
	outboxRetentionDays = 30
	dlqRetentionDays    = 90
	outboxMinAttempts   = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type dlqRetentionRepo interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountByReason(ctx context.Context, tx *gorm.DB) (map[enums.OutboxDLQErrorReason]int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	DLQ        dlqRetentionRepo
	Metrics    *metrics.OutboxMetrics
	// Retention and DLQRetention are in days; zero picks the defaults.
	Retention    int
	DLQRetention int
	// MinAttempts marks rows the publisher gave up on; match the publisher's max attempts.
	MinAttempts int
}

// NewOutboxRetentionJob prunes settled outbox rows and aged dead letters,
// then publishes the remaining dead-letter backlog per reason.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.DLQ == nil:
		return nil, fmt.Errorf("dlq repository required")
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		dlq:          params.DLQ,
		metrics:      params.Metrics,
		retention:    positiveOr(params.Retention, outboxRetentionDays),
		dlqRetention: positiveOr(params.DLQRetention, dlqRetentionDays),
		minAttempts:  positiveOr(params.MinAttempts, outboxMinAttempts),
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxRetentionRepo
	dlq          dlqRetentionRepo
	metrics      *metrics.OutboxMetrics
	retention    int
	dlqRetention int
	minAttempts  int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.AddDate(0, 0, -j.retention)
	dlqCutoff := now.AddDate(0, 0, -j.dlqRetention)

	var outboxDeleted, dlqDeleted int64
	var backlog map[enums.OutboxDLQErrorReason]int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if outboxDeleted, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts); err != nil {
			return fmt.Errorf("prune outbox: %w", err)
		}
		if dlqDeleted, err = j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dlq: %w", err)
		}
		if backlog, err = j.dlq.CountByReason(ctx, tx); err != nil {
			return fmt.Errorf("count dlq: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	for reason, rows := range backlog {
		j.metrics.SetDLQBacklog(string(reason), rows)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":       cutoff,
		"dlq_cutoff":          dlqCutoff,
		"outbox_rows_deleted": outboxDeleted,
		"dlq_rows_deleted":    dlqDeleted,
		"dlq_backlog":         backlog,
	}), "outbox retention cleanup complete")
	return nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
