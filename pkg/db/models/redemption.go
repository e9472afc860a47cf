package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LifetimeKeyConstraint is the unique index that makes lifetime-once benefits
// redeemable at most once per customer.
const LifetimeKeyConstraint = "ux_redemptions_lifetime_key"

// Redemption records one consumed unit of a benefit. LifetimeKey is set only
// for lifetime-once benefits; NULLs never collide.
type Redemption struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID   uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index:ix_redemptions_customer_benefit,priority:1"`
	BenefitID    uuid.UUID `gorm:"column:benefit_id;type:uuid;not null;index:ix_redemptions_customer_benefit,priority:2"`
	VenueID      uuid.UUID `gorm:"column:venue_id;type:uuid;not null"`
	VisitEventID uuid.UUID `gorm:"column:visit_event_id;type:uuid;not null"`
	StaffID      string    `gorm:"column:staff_id;type:text;not null"`
	OccurredAt   time.Time `gorm:"column:occurred_at;not null;index:ix_redemptions_customer_benefit,priority:3"`
	LifetimeKey  *string   `gorm:"column:lifetime_key;type:text;uniqueIndex:ux_redemptions_lifetime_key"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *Redemption) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// LifetimeKeyFor builds the uniqueness key for a lifetime-once redemption.
func LifetimeKeyFor(customerID, benefitID uuid.UUID) string {
	return customerID.String() + ":" + benefitID.String()
}
