package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tier is a ranked loyalty level with its qualification criteria.
type Tier struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name                string    `gorm:"column:name;type:text;not null;uniqueIndex:ux_tiers_name"`
	Rank                int       `gorm:"column:rank;not null;uniqueIndex:ux_tiers_rank"`
	MinQualifyingVisits int       `gorm:"column:min_qualifying_visits;not null;default:0"`
	WindowDays          int       `gorm:"column:window_days;not null;default:0"`
	MinDistinctVenues   int       `gorm:"column:min_distinct_venues;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (t *Tier) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
