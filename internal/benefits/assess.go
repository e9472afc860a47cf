package benefits

import (
	"time"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

type Status string

const (
	StatusClaimable Status = "claimable"
	StatusPending   Status = "pending"
	StatusExhausted Status = "exhausted"
)

type Reason string

const (
	ReasonLifetimeRedeemed Reason = "lifetime_redeemed"
	ReasonDailyQuotaMet    Reason = "daily_quota_met"
	ReasonMonthlyQuotaMet  Reason = "monthly_quota_met"
	ReasonTriggerNotFired  Reason = "trigger_not_fired"
	ReasonTriggerExpired   Reason = "trigger_expired"
	ReasonTriggerConsumed  Reason = "trigger_consumed"
)

// Usage is the ledger state one benefit is judged against. Counts cover the
// calendar day and month containing the evaluation time in the business timezone.
type Usage struct {
	Lifetime       int64
	Today          int64
	ThisMonth      int64
	LastTriggerAt  *time.Time
	LastRedeemedAt *time.Time
}

type Assessment struct {
	Status             Status
	Reason             Reason
	ClaimableUntil     *time.Time
	RemainingToday     *int
	RemainingThisMonth *int
}

// Assess decides whether benefit can be claimed at now. Quota rules are
// checked before the trigger window, so an exhausted quota wins over an
// active trigger. Inside the trigger window the benefit stays claimable
// unless it is single-use, in which case a redemption at or after the
// trigger consumes it.
func Assess(benefit models.Benefit, usage Usage, now time.Time) Assessment {
	if benefit.LifetimeOnce && usage.Lifetime > 0 {
		return Assessment{Status: StatusExhausted, Reason: ReasonLifetimeRedeemed}
	}

	var out Assessment
	if benefit.PerDay != nil {
		remaining := *benefit.PerDay - int(usage.Today)
		if remaining <= 0 {
			return Assessment{Status: StatusExhausted, Reason: ReasonDailyQuotaMet}
		}
		out.RemainingToday = &remaining
	}
	if benefit.PerMonth != nil {
		remaining := *benefit.PerMonth - int(usage.ThisMonth)
		if remaining <= 0 {
			return Assessment{Status: StatusExhausted, Reason: ReasonMonthlyQuotaMet}
		}
		out.RemainingThisMonth = &remaining
	}

	if benefit.RequiresExternalTrigger {
		if usage.LastTriggerAt == nil {
			return Assessment{Status: StatusPending, Reason: ReasonTriggerNotFired}
		}
		validity := time.Duration(0)
		if benefit.TriggerValidityMinutes != nil {
			validity = time.Duration(*benefit.TriggerValidityMinutes) * time.Minute
		}
		triggeredAt := *usage.LastTriggerAt
		if now.Sub(triggeredAt) > validity {
			return Assessment{Status: StatusExhausted, Reason: ReasonTriggerExpired}
		}
		if benefit.TriggerSingleUse && usage.LastRedeemedAt != nil && !usage.LastRedeemedAt.Before(triggeredAt) {
			return Assessment{Status: StatusExhausted, Reason: ReasonTriggerConsumed}
		}
		until := triggeredAt.Add(validity)
		out.ClaimableUntil = &until
	}

	out.Status = StatusClaimable
	return out
}

// DayStart returns midnight of the calendar day containing t in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// MonthStart returns midnight of the first day of t's month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}
