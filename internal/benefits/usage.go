package benefits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

// RedemptionCounter reads the redemption store. tx may be nil.
type RedemptionCounter interface {
	CountSince(ctx context.Context, tx *gorm.DB, customerID, benefitID uuid.UUID, since time.Time) (int64, error)
	LastRedeemedAt(ctx context.Context, tx *gorm.DB, customerID, benefitID uuid.UUID) (*time.Time, error)
}

// TriggerReader finds the newest matching external state event. tx may be nil.
type TriggerReader interface {
	LastExternalState(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, value string) (*models.VisitEvent, error)
}

// UsageReader loads only the parts of Usage a benefit's rules look at. The
// redemption coordinator calls it inside its transaction so the check and
// the write see the same rows.
type UsageReader struct {
	redemptions RedemptionCounter
	triggers    TriggerReader
	loc         *time.Location
}

func NewUsageReader(redemptions RedemptionCounter, triggers TriggerReader, loc *time.Location) (*UsageReader, error) {
	if redemptions == nil {
		return nil, errors.New("redemption counter required")
	}
	if triggers == nil {
		return nil, errors.New("trigger reader required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &UsageReader{redemptions: redemptions, triggers: triggers, loc: loc}, nil
}

func (u *UsageReader) Load(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, benefit models.Benefit, now time.Time) (Usage, error) {
	var usage Usage
	var err error
	if benefit.LifetimeOnce {
		if usage.Lifetime, err = u.redemptions.CountSince(ctx, tx, customerID, benefit.ID, time.Time{}); err != nil {
			return Usage{}, fmt.Errorf("lifetime redemptions: %w", err)
		}
	}
	if benefit.PerDay != nil {
		if usage.Today, err = u.redemptions.CountSince(ctx, tx, customerID, benefit.ID, DayStart(now, u.loc)); err != nil {
			return Usage{}, fmt.Errorf("daily redemptions: %w", err)
		}
	}
	if benefit.PerMonth != nil {
		if usage.ThisMonth, err = u.redemptions.CountSince(ctx, tx, customerID, benefit.ID, MonthStart(now, u.loc)); err != nil {
			return Usage{}, fmt.Errorf("monthly redemptions: %w", err)
		}
	}
	if benefit.RequiresExternalTrigger && benefit.TriggerValue != nil {
		event, err := u.triggers.LastExternalState(ctx, tx, customerID, *benefit.TriggerValue)
		if err != nil {
			return Usage{}, fmt.Errorf("last trigger: %w", err)
		}
		if event != nil {
			at := event.OccurredAt
			usage.LastTriggerAt = &at
		}
		if event != nil && benefit.TriggerSingleUse {
			if usage.LastRedeemedAt, err = u.redemptions.LastRedeemedAt(ctx, tx, customerID, benefit.ID); err != nil {
				return Usage{}, fmt.Errorf("last redemption: %w", err)
			}
		}
	}
	return usage, nil
}
