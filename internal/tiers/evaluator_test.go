package tiers_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/testdb"
	"github.com/angelmondragon/lealtad-backend/internal/tiers"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	pkgdb "github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
)

var evalTime = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func newEvaluator(t *testing.T, conn *gorm.DB) *tiers.Evaluator {
	t.Helper()
	evaluator, err := tiers.NewEvaluator(tiers.EvaluatorParams{
		DB:        pkgdb.Wrap(conn),
		Customers: customers.NewRepository(conn),
		Tiers:     tiers.NewRepository(conn),
		Ledger:    visits.NewRepository(conn),
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Logger:    logger.Nop(),
		Clock:     func() time.Time { return evalTime },
	})
	require.NoError(t, err)
	return evaluator
}

func seedVisits(t *testing.T, conn *gorm.DB, customerID uuid.UUID, venue models.Venue, n int, start time.Time) {
	t.Helper()
	venueID := venue.ID
	for i := 0; i < n; i++ {
		require.NoError(t, conn.Create(&models.VisitEvent{
			CustomerID:       customerID,
			VenueID:          &venueID,
			Kind:             enums.VisitEventKindVisit,
			Source:           enums.VisitSourceScan,
			CountsTowardTier: true,
			OccurredAt:       start.Add(time.Duration(i) * 24 * time.Hour),
		}).Error)
	}
}

func TestEvaluate_SixVisitsPromotesToPlata(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 6, evalTime.AddDate(0, 0, -10))

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	assert.Equal(t, "Bronce", result.Previous.Name)
	assert.Equal(t, "Plata", result.Current.Name)
	assert.Equal(t, int64(6), result.Progress.QualifyingVisits)

	var stored models.Customer
	require.NoError(t, conn.First(&stored, "id = ?", customer.ID).Error)
	assert.Equal(t, program.Plata.ID, stored.TierID)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventTierPromoted).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, customer.ID, events[0].AggregateID)
}

func seedEvent(t *testing.T, conn *gorm.DB, event models.VisitEvent) {
	t.Helper()
	require.NoError(t, conn.Create(&event).Error)
}

func TestEvaluate_NonCountingEventsNeverPromote(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 5, evalTime.AddDate(0, 0, -10))

	carWash := program.CarWash.ID
	benefitID := uuid.New()
	state := "car_in_wash"
	at := evalTime.Add(-2 * time.Hour)
	for i := 0; i < 10; i++ {
		seedEvent(t, conn, models.VisitEvent{
			CustomerID: customer.ID, VenueID: &carWash, Kind: enums.VisitEventKindVisit,
			Source: enums.VisitSourceManual, CountsTowardTier: false, OccurredAt: at,
		})
	}
	seedEvent(t, conn, models.VisitEvent{
		CustomerID: customer.ID, VenueID: &carWash, Kind: enums.VisitEventKindExternalStateChange,
		Source: enums.VisitSourceFeed, ExternalStateValue: &state, OccurredAt: at,
	})
	seedEvent(t, conn, models.VisitEvent{
		CustomerID: customer.ID, VenueID: &carWash, Kind: enums.VisitEventKindBenefitRedeemed,
		Source: enums.VisitSourceScan, BenefitID: &benefitID, OccurredAt: at,
	})

	evaluator := newEvaluator(t, conn)
	result, err := evaluator.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.False(t, result.Promoted)
	assert.Equal(t, "Bronce", result.Current.Name)

	progress, err := evaluator.ProgressToward(context.Background(), customer.ID, program.Oro)
	require.NoError(t, err)
	assert.Equal(t, tiers.Progress{QualifyingVisits: 5, DistinctVenues: 1}, progress)

	var outboxRows int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	assert.Zero(t, outboxRows)
}

func TestEvaluate_NonCountingVisitsAddNoDiversity(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Plata, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 12, evalTime.AddDate(0, 0, -20))

	carWash := program.CarWash.ID
	seedEvent(t, conn, models.VisitEvent{
		CustomerID: customer.ID, VenueID: &carWash, Kind: enums.VisitEventKindVisit,
		Source: enums.VisitSourceScan, CountsTowardTier: false, OccurredAt: evalTime.Add(-time.Hour),
	})

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.False(t, result.Promoted)
	assert.Equal(t, "Plata", result.Current.Name)
}

func TestEvaluate_BonusCreditsCountVisitsButNotVenues(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 11, evalTime.AddDate(0, 0, -10))
	seedEvent(t, conn, models.VisitEvent{
		CustomerID: customer.ID, Kind: enums.VisitEventKindVisit, Source: enums.VisitSourceBonus,
		CountsTowardTier: true, OccurredAt: evalTime.Add(-time.Hour),
	})

	evaluator := newEvaluator(t, conn)
	result, err := evaluator.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	assert.Equal(t, "Plata", result.Current.Name)

	progress, err := evaluator.ProgressToward(context.Background(), customer.ID, program.Oro)
	require.NoError(t, err)
	assert.Equal(t, tiers.Progress{QualifyingVisits: 12, DistinctVenues: 1}, progress)
	assert.False(t, progress.Meets(program.Oro))
}

func TestEvaluate_VisitsOutsideWindowDoNotCount(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 3, evalTime.AddDate(0, 0, -45))
	seedVisits(t, conn, customer.ID, program.Cafe, 3, evalTime.AddDate(0, 0, -5))

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.False(t, result.Promoted)
	assert.Equal(t, "Bronce", result.Current.Name)
}

func TestEvaluate_SingleVenueNeverReachesOro(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 20, evalTime.AddDate(0, 0, -25))

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	assert.Equal(t, "Plata", result.Current.Name)
}

func TestEvaluate_SkipsStraightToOro(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 8, evalTime.AddDate(0, 0, -20))
	seedVisits(t, conn, customer.ID, program.CarWash, 4, evalTime.AddDate(0, 0, -8))

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oro", result.Current.Name)
	assert.Equal(t, int64(2), result.Progress.DistinctVenues)
}

func TestEvaluate_NeverDemotes(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Oro, enums.CustomerStateActive)

	result, err := newEvaluator(t, conn).Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.False(t, result.Promoted)
	assert.Equal(t, "Oro", result.Current.Name)

	var stored models.Customer
	require.NoError(t, conn.First(&stored, "id = ?", customer.ID).Error)
	assert.Equal(t, program.Oro.ID, stored.TierID)
}

func TestEvaluate_SecondRunIsNoop(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.Cafe, 6, evalTime.AddDate(0, 0, -10))
	evaluator := newEvaluator(t, conn)

	first, err := evaluator.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.True(t, first.Promoted)

	second, err := evaluator.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.False(t, second.Promoted)
	assert.Equal(t, "Plata", second.Current.Name)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEvaluate_UnknownCustomer(t *testing.T) {
	conn := testdb.Open(t)
	testdb.SeedProgram(t, conn)

	_, err := newEvaluator(t, conn).Evaluate(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestProgressToward_ReportsWithoutPromoting(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	customer := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, customer.ID, program.CarWash, 7, evalTime.AddDate(0, 0, -10))

	progress, err := newEvaluator(t, conn).ProgressToward(context.Background(), customer.ID, program.Oro)
	require.NoError(t, err)
	assert.Equal(t, tiers.Progress{QualifyingVisits: 7, DistinctVenues: 1}, progress)
	assert.False(t, progress.Meets(program.Oro))
	assert.True(t, progress.Meets(program.Plata))

	var stored models.Customer
	require.NoError(t, conn.First(&stored, "id = ?", customer.ID).Error)
	assert.Equal(t, program.Bronce.ID, stored.TierID)
}

func TestReconcileJob_PromotesMissedCustomers(t *testing.T) {
	conn := testdb.Open(t)
	program := testdb.SeedProgram(t, conn)
	pending := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	idle := testdb.SeedCustomer(t, conn, program.Bronce, enums.CustomerStateActive)
	seedVisits(t, conn, pending.ID, program.Cafe, 6, evalTime.AddDate(0, 0, -10))
	seedVisits(t, conn, idle.ID, program.Cafe, 2, evalTime.AddDate(0, 0, -10))

	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "tier-test", Level: zerolog.DebugLevel, Output: &buf})
	job, err := tiers.NewReconcileJob(tiers.ReconcileJobParams{
		Logger:    logg,
		Evaluator: newEvaluator(t, conn),
		Ledger:    visits.NewRepository(conn),
		Tiers:     tiers.NewRepository(conn),
		Clock:     func() time.Time { return evalTime },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Contains(t, buf.String(), "tier reconcile complete")
	assert.Contains(t, buf.String(), `"promoted":1`)

	var promoted, untouched models.Customer
	require.NoError(t, conn.First(&promoted, "id = ?", pending.ID).Error)
	assert.Equal(t, program.Plata.ID, promoted.TierID)
	require.NoError(t, conn.First(&untouched, "id = ?", idle.ID).Error)
	assert.Equal(t, program.Bronce.ID, untouched.TierID)
}

func TestMaxWindowDays(t *testing.T) {
	conn := testdb.Open(t)
	testdb.SeedProgram(t, conn)

	days, err := tiers.NewRepository(conn).MaxWindowDays(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, days)
}
