package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// VisitEvent is one immutable row of the visit ledger. CountsTowardTier is
// fixed at write time. VenueID is nil only for synthetic credits.
type VisitEvent struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID         uuid.UUID            `gorm:"column:customer_id;type:uuid;not null;index:ix_visit_events_customer_occurred,priority:1"`
	VenueID            *uuid.UUID           `gorm:"column:venue_id;type:uuid;index:ix_visit_events_venue_occurred,priority:1"`
	Kind               enums.VisitEventKind `gorm:"column:kind;type:visit_event_kind_enum;not null"`
	Source             enums.VisitSource    `gorm:"column:source;type:visit_source_enum;not null"`
	CountsTowardTier   bool                 `gorm:"column:counts_toward_tier;not null;default:false"`
	OccurredAt         time.Time            `gorm:"column:occurred_at;not null;index:ix_visit_events_customer_occurred,priority:2;index:ix_visit_events_venue_occurred,priority:2"`
	BenefitID          *uuid.UUID           `gorm:"column:benefit_id;type:uuid"`
	ExternalStateValue *string              `gorm:"column:external_state_value;type:text"`
	StaffID            *string              `gorm:"column:staff_id;type:text"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (e *VisitEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
