package enums

import "fmt"

// VenueKind maps to the venue_kind_enum enum in Postgres.
type VenueKind string

const (
	VenueKindCafe    VenueKind = "cafe"
	VenueKindCarWash VenueKind = "car_wash"
)

var validVenueKinds = []VenueKind{
	VenueKindCafe,
	VenueKindCarWash,
}

// IsValid reports whether the value matches the canonical venue kind enum.
func (k VenueKind) IsValid() bool {
	for _, candidate := range validVenueKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseVenueKind converts raw input into VenueKind.
func ParseVenueKind(value string) (VenueKind, error) {
	for _, candidate := range validVenueKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid venue kind %q", value)
}
