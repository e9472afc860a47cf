package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// Customer is a loyalty member. Secret is issued once and never rotated.
type Customer struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Phone     string              `gorm:"column:phone;type:text;not null;uniqueIndex:ux_customers_phone"`
	Secret    string              `gorm:"column:secret;type:text;not null;uniqueIndex:ux_customers_secret"`
	State     enums.CustomerState `gorm:"column:state;type:customer_state_enum;not null;index"`
	TierID    uuid.UUID           `gorm:"column:tier_id;type:uuid;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Customer) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
