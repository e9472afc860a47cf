package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/registry"
)

const (
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher sends one message and waits for the broker ack.
type topicPublisher interface {
	Send(ctx context.Context, msg *gcppubsub.Message) error
}

// publisherSource hands out a publisher per topic; nil means the topic is unknown.
type publisherSource func(topic string) topicPublisher

type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Broker     pinger
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   eventResolver
	Publishers publisherSource
	Metrics    *metrics.OutboxMetrics
}

// Service drains outbox_events to Pub/Sub. Loyalty signals are best effort:
// a row that cannot be delivered lands in outbox_dlq and never blocks the
// loyalty writes that produced it.
type Service struct {
	logg        *logger.Logger
	db          txRunner
	broker      pinger
	repo        outboxRepository
	dlq         dlqRepository
	registry    eventResolver
	publishers  publisherSource
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publishers == nil:
		return nil, errors.New("publisher source is required")
	}

	batch := params.Outbox.BatchSize
	if batch <= 0 {
		batch = 50
	}
	attempts := params.Outbox.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		broker:      params.Broker,
		repo:        params.Repository,
		dlq:         params.DLQ,
		registry:    params.Registry,
		publishers:  params.Publishers,
		metrics:     params.Metrics,
		batchSize:   batch,
		maxAttempts: attempts,
		poll:        params.Outbox.PollInterval(),
	}, nil
}

// Run polls until ctx is canceled. Full batches are drained back to back;
// batch errors back off exponentially up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.broker.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := s.poll
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		n, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = min(wait*2, maxIdleBackoff)
		case n >= s.batchSize:
			wait = s.poll
			continue
		default:
			wait = s.poll
		}
		if err := sleepCtx(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

// processBatch publishes one locked batch and returns how many rows it handled.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := s.dispatch(ctx, tx, row); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

// dispatch publishes one row and records the outcome on it. Only bookkeeping
// failures are returned; publish failures are recorded on the row.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_id":   row.AggregateID.String(),
		"aggregate_type": row.AggregateType,
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonUnroutable, err)
	}
	topic := resolved.Descriptor.Topic
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    topic,
	})
	pub := s.publishers(topic)
	if pub == nil {
		return s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonUnroutable,
			fmt.Errorf("publisher not configured for topic %s", topic))
	}

	pubErr := s.publish(ctx, pub, row, resolved)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.metrics.Inc(string(row.EventType), metrics.OutboxPublished)
		s.logg.Debug(logCtx, "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if row.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed; will retry")
	if err := s.repo.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	s.metrics.Inc(string(row.EventType), metrics.OutboxRetry)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dlq")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	s.metrics.Inc(string(row.EventType), metrics.OutboxDeadLettered)
	return nil
}

// publish sends the stored envelope unchanged. Messages are ordered per
// aggregate so a customer's promotion never overtakes the redemption that
// caused it.
func (s *Service) publish(ctx context.Context, pub topicPublisher, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	sendCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return pub.Send(sendCtx, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter() time.Duration {
	return rand.N(jitterWindow)
}

// gcpPublisher adapts a Pub/Sub publisher handle to topicPublisher.
type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p gcpPublisher) Send(ctx context.Context, msg *gcppubsub.Message) error {
	_, err := p.pub.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		// A failed ordered publish pauses the key until resumed.
		p.pub.ResumePublish(msg.OrderingKey)
	}
	return err
}

// newPublisherSource caches one ordered publisher per topic.
func newPublisherSource(open func(topic string) *gcppubsub.Publisher) publisherSource {
	cache := map[string]topicPublisher{}
	return func(topic string) topicPublisher {
		if pub, ok := cache[topic]; ok {
			return pub
		}
		handle := open(topic)
		if handle == nil {
			return nil
		}
		handle.EnableMessageOrdering = true
		pub := gcpPublisher{pub: handle}
		cache[topic] = pub
		return pub
	}
}
