package enums

import "fmt"

// OutboxDLQErrorReason maps to the outbox_dlq_error_reason_enum enum in Postgres.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: the broker kept failing until attempts ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the broker rejected the message outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUnroutable: no registry entry or topic publisher for the row.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
)

// IsValid reports whether the value matches the canonical dlq reason enum.
func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnroutable:
		return true
	}
	return false
}

// Replayable reports whether an operator can requeue the row unchanged once
// the broker recovers.
func (r OutboxDLQErrorReason) Replayable() bool {
	return r == OutboxDLQReasonMaxAttempts
}

// ParseOutboxDLQErrorReason converts raw input into OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	if r := OutboxDLQErrorReason(value); r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid dlq error reason %q", value)
}
