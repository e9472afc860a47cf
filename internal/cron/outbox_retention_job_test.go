package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/testdb"
	pkgdb "github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
)

func TestOutboxRetentionJobDeletesPublishedRows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.AddDate(0, 0, -outboxRetentionDays)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if repo.minAttempts != outboxMinAttempts {
		t.Fatalf("expected min attempts %d, got %d", outboxMinAttempts, repo.minAttempts)
	}
	if repo.called != 1 {
		t.Fatalf("expected repo called once, got %d", repo.called)
	}
	if want := now.AddDate(0, 0, -dlqRetentionDays); !repo.dlqCutoff.Equal(want) {
		t.Fatalf("expected dlq cutoff %s, got %s", want, repo.dlqCutoff)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionJobAgainstDatabase(t *testing.T) {
	conn := testdb.Open(t)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -1)

	rows := []models.OutboxEvent{
		{EventType: enums.EventTierPromoted, PublishedAt: &old, CreatedAt: old},
		{EventType: enums.EventTierPromoted, PublishedAt: &recent, CreatedAt: recent},
		{EventType: enums.EventTierPromoted, AttemptCount: 10, CreatedAt: old},
		{EventType: enums.EventTierPromoted, AttemptCount: 2, CreatedAt: old},
	}
	for i := range rows {
		rows[i].AggregateType = enums.AggregateCustomer
		rows[i].Payload = []byte(`{}`)
		if err := conn.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}

	dead := []models.OutboxDLQ{
		{EventType: enums.EventTierPromoted, ErrorReason: enums.OutboxDLQReasonMaxAttempts, FailedAt: now.AddDate(0, 0, -120)},
		{EventType: enums.EventTierPromoted, ErrorReason: enums.OutboxDLQReasonMaxAttempts, FailedAt: recent},
		{EventType: enums.EventTierPromoted, ErrorReason: enums.OutboxDLQReasonUnroutable, FailedAt: recent},
	}
	for i := range dead {
		dead[i].AggregateType = enums.AggregateCustomer
		dead[i].Payload = []byte(`{}`)
		if err := conn.Create(&dead[i]).Error; err != nil {
			t.Fatalf("seed dlq: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	outboxMetrics := metrics.NewOutboxMetrics(reg)
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      logger.Nop(),
		DB:          pkgdb.Wrap(conn),
		Repository:  outbox.NewRepository(conn),
		DLQ:         outbox.NewDLQRepository(conn),
		Metrics:     outboxMetrics,
		MinAttempts: 10,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var remaining []models.OutboxEvent
	if err := conn.Order("attempt_count ASC").Find(&remaining).Error; err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 rows kept, got %d", len(remaining))
	}
	if remaining[0].ID != rows[1].ID || remaining[1].ID != rows[3].ID {
		t.Fatalf("unexpected rows kept: %v, %v", remaining[0].ID, remaining[1].ID)
	}

	var dlqLeft int64
	if err := conn.Model(&models.OutboxDLQ{}).Count(&dlqLeft).Error; err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if dlqLeft != 2 {
		t.Fatalf("expected 2 dead letters kept, got %d", dlqLeft)
	}
	backlog := map[string]float64{"max_attempts": 1, "unroutable": 1, "non_retryable": 0}
	for reason, want := range backlog {
		vec := gaugeVec(t, reg, "lealtad_outbox_dlq_rows", reason)
		if vec != want {
			t.Fatalf("dlq backlog %s: expected %v, got %v", reason, want, vec)
		}
	}
}

func gaugeVec(t *testing.T, reg *prometheus.Registry, name, reason string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return -1
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         outboxRetentionTxRunner{},
		Repository: repo,
		DLQ:        repo,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxRetentionRepo struct {
	dlqCutoff   time.Time
	lastCutoff  time.Time
	minAttempts int
	called      int
	err         error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.minAttempts = minAttemptCount
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func (f *fakeOutboxRetentionRepo) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.dlqCutoff = cutoff
	return 0, nil
}

func (f *fakeOutboxRetentionRepo) CountByReason(context.Context, *gorm.DB) (map[enums.OutboxDLQErrorReason]int64, error) {
	return map[enums.OutboxDLQErrorReason]int64{enums.OutboxDLQReasonMaxAttempts: 0}, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
