package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope version written by Emit.
const CurrentVersion = 1

// ActorRef names the staff member whose request produced the event. Events
// raised by the reconcile job carry no actor.
type ActorRef struct {
	StaffID string     `json:"staffId,omitempty"`
	VenueID *uuid.UUID `json:"venueId,omitempty"`
	Role    string     `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// unchanged as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope wraps data with a fresh event id. A zero occurredAt is
// replaced with now.
func NewEnvelope(data any, actor *ActorRef, occurredAt time.Time, now time.Time) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return PayloadEnvelope{
		Version:    CurrentVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses a stored payload and rejects envelopes that a
// consumer could not act on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version < 1 || env.Version > CurrentVersion:
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	case env.EventID == "":
		return PayloadEnvelope{}, errors.New("envelope missing eventId")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errors.New("envelope missing data")
	}
	return env, nil
}
