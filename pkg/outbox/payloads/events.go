package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// TierPromotedEvent is emitted when a customer moves up to a higher tier.
type TierPromotedEvent struct {
	CustomerID       uuid.UUID `json:"customer_id"`
	FromTierID       uuid.UUID `json:"from_tier_id"`
	FromTierName     string    `json:"from_tier_name"`
	ToTierID         uuid.UUID `json:"to_tier_id"`
	ToTierName       string    `json:"to_tier_name"`
	ToTierRank       int       `json:"to_tier_rank"`
	QualifyingVisits int64     `json:"qualifying_visits"`
	DistinctVenues   int64     `json:"distinct_venues"`
	PromotedAt       time.Time `json:"promoted_at"`
}

// BenefitRedeemedEvent is emitted once a redemption commits.
type BenefitRedeemedEvent struct {
	RedemptionID     uuid.UUID       `json:"redemption_id"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	BenefitID        uuid.UUID       `json:"benefit_id"`
	BenefitName      string          `json:"benefit_name"`
	VenueID          uuid.UUID       `json:"venue_id"`
	StaffID          string          `json:"staff_id,omitempty"`
	RetailValue      decimal.Decimal `json:"retail_value"`
	CountsTowardTier bool            `json:"counts_toward_tier"`
	RedeemedAt       time.Time       `json:"redeemed_at"`
}

// CustomerActivatedEvent is emitted when a pre-registered customer's first
// visit makes them active.
type CustomerActivatedEvent struct {
	CustomerID  uuid.UUID         `json:"customer_id"`
	VenueID     *uuid.UUID        `json:"venue_id,omitempty"`
	Source      enums.VisitSource `json:"source"`
	StaffID     string            `json:"staff_id,omitempty"`
	ActivatedAt time.Time         `json:"activated_at"`
}

// Keyed is implemented by payloads that name the aggregate they belong to.
type Keyed interface {
	AggregateKey() uuid.UUID
}

func (e TierPromotedEvent) AggregateKey() uuid.UUID      { return e.CustomerID }
func (e BenefitRedeemedEvent) AggregateKey() uuid.UUID   { return e.RedemptionID }
func (e CustomerActivatedEvent) AggregateKey() uuid.UUID { return e.CustomerID }
