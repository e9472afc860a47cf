// Package externalstate ingests state changes reported by collaborating
// systems (for example "wash completed" from the car-wash line) into the
// visit ledger.
package externalstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/internal/visits"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/idempotency"
)

// ConsumerName scopes this consumer's idempotency claims.
const ConsumerName = "external-state-worker"

// messageNamespace derives stable event ids for messages that carry none.
var messageNamespace = uuid.MustParse("6f1d3c1e-8a4b-4e52-9d57-3b0c2f7a9e11")

type recorder interface {
	RecordExternalState(ctx context.Context, input visits.RecordExternalStateInput) (*visits.VisitDTO, error)
}

type dedupe interface {
	Begin(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// StateChange is the message body published by collaborating systems.
type StateChange struct {
	EventID    uuid.UUID  `json:"event_id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	VenueID    *uuid.UUID `json:"venue_id,omitempty"`
	Value      string     `json:"value"`
	OccurredAt time.Time  `json:"occurred_at"`
}

type Consumer struct {
	visits       recorder
	subscription *pubsub.Subscriber
	idempotency  dedupe
	logg         *logger.Logger
}

func NewConsumer(visits recorder, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if visits == nil {
		return nil, fmt.Errorf("visit service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("external state subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		visits:       visits,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var change StateChange
	if err := json.Unmarshal(data, &change); err != nil {
		c.logg.Error(logCtx, "failed to decode state change", err)
		return processResult{ack: true}
	}
	if change.EventID == uuid.Nil {
		change.EventID = uuid.NewSHA1(messageNamespace, []byte(messageID))
	}
	logCtx = c.logg.WithFields(c.logg.WithCustomerID(logCtx, change.CustomerID.String()), map[string]any{
		"event_id": change.EventID.String(),
		"value":    change.Value,
	})

	claimed, err := c.idempotency.Begin(ctx, change.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "state change already processed")
		return processResult{ack: true}
	}

	_, err = c.visits.RecordExternalState(ctx, visits.RecordExternalStateInput{
		CustomerID: change.CustomerID,
		VenueID:    change.VenueID,
		Value:      change.Value,
		OccurredAt: change.OccurredAt,
	})
	if err != nil {
		if pkgerrors.Retryable(err) {
			c.logg.Error(logCtx, "recording state change failed; will retry", err)
			_ = c.idempotency.Release(ctx, change.EventID)
			return processResult{nack: true}
		}
		c.logg.Warn(c.logg.WithField(logCtx, "reason", err.Error()), "dropping state change")
		return processResult{ack: true}
	}

	c.logg.Info(logCtx, "state change recorded")
	return processResult{ack: true}
}
