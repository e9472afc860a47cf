package visits

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

type VisitDTO struct {
	ID                 uuid.UUID            `json:"id"`
	CustomerID         uuid.UUID            `json:"customer_id"`
	VenueID            *uuid.UUID           `json:"venue_id,omitempty"`
	Kind               enums.VisitEventKind `json:"kind"`
	Source             enums.VisitSource    `json:"source"`
	CountsTowardTier   bool                 `json:"counts_toward_tier"`
	OccurredAt         time.Time            `json:"occurred_at"`
	BenefitID          *uuid.UUID           `json:"benefit_id,omitempty"`
	ExternalStateValue *string              `json:"external_state_value,omitempty"`
	StaffID            *string              `json:"staff_id,omitempty"`
}

func FromModel(m *models.VisitEvent) VisitDTO {
	return VisitDTO{
		ID:                 m.ID,
		CustomerID:         m.CustomerID,
		VenueID:            m.VenueID,
		Kind:               m.Kind,
		Source:             m.Source,
		CountsTowardTier:   m.CountsTowardTier,
		OccurredAt:         m.OccurredAt,
		BenefitID:          m.BenefitID,
		ExternalStateValue: m.ExternalStateValue,
		StaffID:            m.StaffID,
	}
}

// RecordVisitInput describes a physical visit or a synthetic credit.
// Bonus credits may omit VenueID.
type RecordVisitInput struct {
	CustomerID       uuid.UUID
	VenueID          *uuid.UUID
	CountsTowardTier bool
	Source           enums.VisitSource
	StaffID          string
}

// RecordExternalStateInput is one state change reported by a collaborating system.
type RecordExternalStateInput struct {
	CustomerID uuid.UUID
	VenueID    *uuid.UUID
	Value      string
	OccurredAt time.Time
}

// TierChangeDTO is attached to a recorded visit when it promoted the customer.
type TierChangeDTO struct {
	FromTierID uuid.UUID `json:"from_tier_id"`
	ToTierID   uuid.UUID `json:"to_tier_id"`
	ToTierName string    `json:"to_tier_name"`
}

// RecordVisitResult is the stored visit plus any side effects it caused.
type RecordVisitResult struct {
	Visit     VisitDTO       `json:"visit"`
	Activated bool           `json:"activated"`
	Promotion *TierChangeDTO `json:"promotion,omitempty"`
}
