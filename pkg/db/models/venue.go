package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

type Venue struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name      string          `gorm:"column:name;type:text;not null"`
	Kind      enums.VenueKind `gorm:"column:kind;type:venue_kind_enum;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (v *Venue) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
