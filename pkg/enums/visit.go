package enums

import "fmt"

// VisitEventKind maps to the visit_event_kind_enum enum in Postgres.
type VisitEventKind string

const (
	VisitEventKindVisit               VisitEventKind = "visit"
	VisitEventKindBenefitRedeemed     VisitEventKind = "benefit_redeemed"
	VisitEventKindExternalStateChange VisitEventKind = "external_state_change"
)

var validVisitEventKinds = []VisitEventKind{
	VisitEventKindVisit,
	VisitEventKindBenefitRedeemed,
	VisitEventKindExternalStateChange,
}

// IsValid reports whether the value matches the canonical visit event kind enum.
func (k VisitEventKind) IsValid() bool {
	for _, candidate := range validVisitEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseVisitEventKind converts raw input into VisitEventKind.
func ParseVisitEventKind(value string) (VisitEventKind, error) {
	for _, candidate := range validVisitEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid visit event kind %q", value)
}

// VisitSource records how a ledger row came to exist.
type VisitSource string

const (
	VisitSourceScan   VisitSource = "scan"
	VisitSourceManual VisitSource = "manual"
	// VisitSourceBonus marks synthetic credits such as referral rewards.
	VisitSourceBonus VisitSource = "bonus"
	VisitSourceFeed  VisitSource = "feed"
)

var validVisitSources = []VisitSource{
	VisitSourceScan,
	VisitSourceManual,
	VisitSourceBonus,
	VisitSourceFeed,
}

// IsValid reports whether the value matches the canonical visit source enum.
func (s VisitSource) IsValid() bool {
	for _, candidate := range validVisitSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseVisitSource converts raw input into VisitSource.
func ParseVisitSource(value string) (VisitSource, error) {
	for _, candidate := range validVisitSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid visit source %q", value)
}
