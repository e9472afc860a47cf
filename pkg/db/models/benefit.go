package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Benefit is a redeemable perk. Nil quota pointers mean "no limit" for that
// window; trigger fields are only meaningful when RequiresExternalTrigger is set.
// TriggerSingleUse lets one trigger unlock a single claim.
type Benefit struct {
	ID                      uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name                    string          `gorm:"column:name;type:text;not null"`
	PerDay                  *int            `gorm:"column:per_day"`
	PerMonth                *int            `gorm:"column:per_month"`
	LifetimeOnce            bool            `gorm:"column:lifetime_once;not null;default:false"`
	RequiresExternalTrigger bool            `gorm:"column:requires_external_trigger;not null;default:false"`
	TriggerValue            *string         `gorm:"column:trigger_value;type:text"`
	TriggerValidityMinutes  *int            `gorm:"column:trigger_validity_minutes"`
	TriggerSingleUse        bool            `gorm:"column:trigger_single_use;not null;default:false"`
	DestinationVenueID      *uuid.UUID      `gorm:"column:destination_venue_id;type:uuid"`
	CountsTowardTier        bool            `gorm:"column:counts_toward_tier;not null;default:false"`
	RetailValue             decimal.Decimal `gorm:"column:retail_value;type:numeric(10,2);not null;default:0"`
	RetiredAt               *time.Time      `gorm:"column:retired_at"`
	CreatedAt               time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (b *Benefit) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

// TierBenefitGrant links a tier to a benefit it unlocks.
type TierBenefitGrant struct {
	TierID    uuid.UUID `gorm:"column:tier_id;type:uuid;primaryKey"`
	BenefitID uuid.UUID `gorm:"column:benefit_id;type:uuid;primaryKey"`
}
