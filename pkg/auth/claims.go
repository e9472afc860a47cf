package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// StaffTokenPayload captures the data available when minting a staff JWT.
type StaffTokenPayload struct {
	StaffID string
	// VenueID is nil for managers and system integrations that act across venues.
	VenueID *uuid.UUID
	Role    enums.StaffRole
	JTI     string
}

// StaffClaims represents the typed JWT presented by terminals and integrations.
type StaffClaims struct {
	StaffID string          `json:"staff_id"`
	VenueID *uuid.UUID      `json:"venue_id,omitempty"`
	Role    enums.StaffRole `json:"role"`
	jwt.RegisteredClaims
}
