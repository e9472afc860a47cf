package benefits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestAssess(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	trigger := models.Benefit{
		RequiresExternalTrigger: true,
		TriggerValue:            strPtr("wash_completed"),
		TriggerValidityMinutes:  intPtr(90),
	}
	singleUse := trigger
	singleUse.TriggerSingleUse = true
	redeemedInWindow := Usage{LastTriggerAt: timePtr(now.Add(-30 * time.Minute)), LastRedeemedAt: timePtr(now.Add(-10 * time.Minute))}

	cases := []struct {
		name    string
		benefit models.Benefit
		usage   Usage
		status  Status
		reason  Reason
	}{
		{"unlimited", models.Benefit{}, Usage{}, StatusClaimable, ""},
		{"lifetime unused", models.Benefit{LifetimeOnce: true}, Usage{}, StatusClaimable, ""},
		{"lifetime used", models.Benefit{LifetimeOnce: true}, Usage{Lifetime: 1}, StatusExhausted, ReasonLifetimeRedeemed},
		{"daily left", models.Benefit{PerDay: intPtr(2)}, Usage{Today: 1}, StatusClaimable, ""},
		{"daily met", models.Benefit{PerDay: intPtr(1)}, Usage{Today: 1}, StatusExhausted, ReasonDailyQuotaMet},
		{"monthly met", models.Benefit{PerDay: intPtr(1), PerMonth: intPtr(4)}, Usage{ThisMonth: 4}, StatusExhausted, ReasonMonthlyQuotaMet},
		{"trigger not fired", trigger, Usage{}, StatusPending, ReasonTriggerNotFired},
		{"trigger fresh", trigger, Usage{LastTriggerAt: timePtr(now.Add(-89 * time.Minute))}, StatusClaimable, ""},
		{"trigger at edge", trigger, Usage{LastTriggerAt: timePtr(now.Add(-90 * time.Minute))}, StatusClaimable, ""},
		{"trigger expired", trigger, Usage{LastTriggerAt: timePtr(now.Add(-91 * time.Minute))}, StatusExhausted, ReasonTriggerExpired},
		{"repeat claim inside window", trigger, redeemedInWindow, StatusClaimable, ""},
		{"single-use trigger consumed", singleUse, redeemedInWindow, StatusExhausted, ReasonTriggerConsumed},
		{
			"single-use redeemed before newer trigger",
			singleUse,
			Usage{LastTriggerAt: timePtr(now.Add(-30 * time.Minute)), LastRedeemedAt: timePtr(now.Add(-3 * time.Hour))},
			StatusClaimable, "",
		},
		{"quota beats trigger", models.Benefit{
			PerDay:                  intPtr(1),
			RequiresExternalTrigger: true,
			TriggerValue:            strPtr("wash_completed"),
			TriggerValidityMinutes:  intPtr(90),
		}, Usage{Today: 1, LastTriggerAt: timePtr(now)}, StatusExhausted, ReasonDailyQuotaMet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Assess(tc.benefit, tc.usage, now)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestAssess_ReportsRemainingAndDeadline(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	triggeredAt := now.Add(-20 * time.Minute)
	got := Assess(models.Benefit{
		PerDay:                  intPtr(3),
		PerMonth:                intPtr(10),
		RequiresExternalTrigger: true,
		TriggerValue:            strPtr("wash_completed"),
		TriggerValidityMinutes:  intPtr(90),
	}, Usage{Today: 1, ThisMonth: 7, LastTriggerAt: &triggeredAt}, now)

	require.Equal(t, StatusClaimable, got.Status)
	require.NotNil(t, got.RemainingToday)
	require.NotNil(t, got.RemainingThisMonth)
	require.NotNil(t, got.ClaimableUntil)
	assert.Equal(t, 2, *got.RemainingToday)
	assert.Equal(t, 3, *got.RemainingThisMonth)
	assert.Equal(t, triggeredAt.Add(90*time.Minute), *got.ClaimableUntil)
}

func TestPeriodStartsUseBusinessTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	// 03:30 UTC on March 1st is still February 28th in Mexico City.
	at := time.Date(2026, 3, 1, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, loc), DayStart(at, loc))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), MonthStart(at, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DayStart(at, time.UTC))
}
