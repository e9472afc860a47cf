// Package registry routes outbox rows to topics and decodes their payloads.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() payloads.Keyed
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    payloads.Keyed
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish, however often it
// is retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// NewEventRegistry wires every loyalty signal to the loyalty topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.LoyaltyTopic == "" {
		return nil, errors.New("loyalty topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	reg.add(enums.EventTierPromoted, enums.AggregateCustomer, cfg.LoyaltyTopic,
		func() payloads.Keyed { return &payloads.TierPromotedEvent{} })
	reg.add(enums.EventBenefitRedeemed, enums.AggregateRedemption, cfg.LoyaltyTopic,
		func() payloads.Keyed { return &payloads.BenefitRedeemedEvent{} })
	reg.add(enums.EventCustomerActivated, enums.AggregateCustomer, cfg.LoyaltyTopic,
		func() payloads.Keyed { return &payloads.CustomerActivatedEvent{} })
	return reg, nil
}

func (r *EventRegistry) add(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, factory func() payloads.Keyed) {
	r.entries[eventType] = EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    factory,
	}
}

// Descriptor returns the routing entry for an event type.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is permanent: the row is malformed, not the broker.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, permanent("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, permanent("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, permanent("%s: %w", event.EventType, err)
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	// Subscribers order by aggregate, so the payload must belong to the row.
	if key := payload.AggregateKey(); key != event.AggregateID {
		return nil, permanent("%s payload names %s, row aggregate is %s", event.EventType, key, event.AggregateID)
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
