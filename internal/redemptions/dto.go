package redemptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// StaffContext identifies who is redeeming and where they are signed in.
type StaffContext struct {
	StaffID string
	VenueID *uuid.UUID
	Role    enums.StaffRole
}

type RedeemInput struct {
	CustomerID uuid.UUID
	BenefitID  uuid.UUID
	VenueID    uuid.UUID
	Staff      StaffContext
}

// ResultDTO describes a committed redemption.
type ResultDTO struct {
	RedemptionID uuid.UUID       `json:"redemption_id"`
	VisitEventID uuid.UUID       `json:"visit_event_id"`
	CustomerID   uuid.UUID       `json:"customer_id"`
	BenefitID    uuid.UUID       `json:"benefit_id"`
	BenefitName  string          `json:"benefit_name"`
	VenueID      uuid.UUID       `json:"venue_id"`
	RetailValue  decimal.Decimal `json:"retail_value"`
	RedeemedAt   time.Time       `json:"redeemed_at"`
	Attempts     int             `json:"-"`
	PromotedTo   *string         `json:"promoted_to,omitempty"`
}
