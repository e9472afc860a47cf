package enums

import "fmt"

// CustomerState maps to the customer_state_enum enum in Postgres.
type CustomerState string

const (
	CustomerStatePreRegistered CustomerState = "pre_registered"
	CustomerStateActive        CustomerState = "active"
	CustomerStateInactive      CustomerState = "inactive"
)

var validCustomerStates = []CustomerState{
	CustomerStatePreRegistered,
	CustomerStateActive,
	CustomerStateInactive,
}

// IsValid reports whether the value matches the canonical customer state enum.
func (s CustomerState) IsValid() bool {
	for _, candidate := range validCustomerStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Indexable reports whether customers in this state get rotating codes indexed.
func (s CustomerState) Indexable() bool {
	return s == CustomerStatePreRegistered || s == CustomerStateActive
}

// ParseCustomerState converts raw input into CustomerState.
func ParseCustomerState(value string) (CustomerState, error) {
	for _, candidate := range validCustomerStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customer state %q", value)
}
