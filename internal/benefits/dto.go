package benefits

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

type TierDTO struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Rank int       `json:"rank"`
}

// BenefitStatusDTO is one benefit as the terminal shows it.
type BenefitStatusDTO struct {
	BenefitID          uuid.UUID       `json:"benefit_id"`
	Name               string          `json:"name"`
	Status             Status          `json:"status"`
	Reason             Reason          `json:"reason,omitempty"`
	ClaimableUntil     *time.Time      `json:"claimable_until,omitempty"`
	RemainingToday     *int            `json:"remaining_today,omitempty"`
	RemainingThisMonth *int            `json:"remaining_this_month,omitempty"`
	DestinationVenueID *uuid.UUID      `json:"destination_venue_id,omitempty"`
	RetailValue        decimal.Decimal `json:"retail_value"`
}

// EligibilityDTO partitions a customer's granted benefits.
type EligibilityDTO struct {
	CustomerID  uuid.UUID          `json:"customer_id"`
	Tier        TierDTO            `json:"tier"`
	Claimable   []BenefitStatusDTO `json:"claimable"`
	Pending     []BenefitStatusDTO `json:"pending"`
	Exhausted   []BenefitStatusDTO `json:"exhausted"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

func statusFrom(b models.Benefit, a Assessment) BenefitStatusDTO {
	return BenefitStatusDTO{
		BenefitID:          b.ID,
		Name:               b.Name,
		Status:             a.Status,
		Reason:             a.Reason,
		ClaimableUntil:     a.ClaimableUntil,
		RemainingToday:     a.RemainingToday,
		RemainingThisMonth: a.RemainingThisMonth,
		DestinationVenueID: b.DestinationVenueID,
		RetailValue:        b.RetailValue,
	}
}
