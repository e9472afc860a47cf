package customers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

// CustomerDTO is the staff-facing view of a customer. The secret never leaves the service.
type CustomerDTO struct {
	ID        uuid.UUID           `json:"id"`
	Phone     string              `json:"phone"`
	State     enums.CustomerState `json:"state"`
	TierID    uuid.UUID           `json:"tier_id"`
	CreatedAt time.Time           `json:"created_at"`
}

func FromModel(m *models.Customer) *CustomerDTO {
	if m == nil {
		return nil
	}
	return &CustomerDTO{
		ID:        m.ID,
		Phone:     m.Phone,
		State:     m.State,
		TierID:    m.TierID,
		CreatedAt: m.CreatedAt,
	}
}

// RegisterInput is what the registration service hands over.
type RegisterInput struct {
	ID        *uuid.UUID
	Phone     string
	Secret    string
	EntryTier string
}

// CodeWindowDTO is what the customer's device renders.
type CodeWindowDTO struct {
	Step                 int64     `json:"step"`
	Code                 string    `json:"code"`
	Payload              string    `json:"payload"`
	ManualEntry          string    `json:"manual_entry"`
	Previous             string    `json:"previous"`
	Next                 string    `json:"next"`
	SecondsUntilRotation int       `json:"seconds_until_rotation"`
	RotatesAt            time.Time `json:"rotates_at"`
}

func codeWindowFrom(w rotatingcode.Window) *CodeWindowDTO {
	return &CodeWindowDTO{
		Step:                 w.Step,
		Code:                 w.Current.String(),
		Payload:              w.Current.Payload(),
		ManualEntry:          w.Current.ManualEntry(),
		Previous:             w.Previous.String(),
		Next:                 w.Next.String(),
		SecondsUntilRotation: w.SecondsUntilRotation,
		RotatesAt:            w.RotatesAt,
	}
}
