package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type customerStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	UpdateTierWithTx(tx *gorm.DB, id, from, to uuid.UUID) (bool, error)
}

type tierStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	ListAbove(ctx context.Context, rank int) ([]models.Tier, error)
}

// LedgerCounter is the read side of the visit ledger the evaluator needs.
type LedgerCounter interface {
	CountQualifyingSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error)
	CountDistinctVenuesSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error)
}

type EvaluatorParams struct {
	DB        txRunner
	Customers customerStore
	Tiers     tierStore
	Ledger    LedgerCounter
	Outbox    outbox.Emitter
	Metrics   *metrics.LoyaltyMetrics
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Evaluator computes a customer's tier from the ledger. It only ever
// promotes: tiers at or below the stored rank are never examined.
type Evaluator struct {
	db        txRunner
	customers customerStore
	tiers     tierStore
	ledger    LedgerCounter
	outbox    outbox.Emitter
	metrics   *metrics.LoyaltyMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewEvaluator(params EvaluatorParams) (*Evaluator, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Customers == nil {
		return nil, errors.New("customer store required")
	}
	if params.Tiers == nil {
		return nil, errors.New("tier store required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Evaluator{
		db:        params.DB,
		customers: params.Customers,
		tiers:     params.Tiers,
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      logg,
		now:       clock,
	}, nil
}

// Progress is the ledger view of one tier's criteria.
type Progress struct {
	QualifyingVisits int64 `json:"qualifying_visits"`
	DistinctVenues   int64 `json:"distinct_venues"`
}

// Meets reports whether p satisfies tier's criteria.
func (p Progress) Meets(tier models.Tier) bool {
	return p.QualifyingVisits >= int64(tier.MinQualifyingVisits) &&
		p.DistinctVenues >= int64(tier.MinDistinctVenues)
}

// Evaluation is the outcome of one evaluator run.
type Evaluation struct {
	CustomerID uuid.UUID
	Previous   models.Tier
	Current    models.Tier
	Promoted   bool
	Progress   Progress
}

func (e *Evaluator) Evaluate(ctx context.Context, customerID uuid.UUID) (*Evaluation, error) {
	customer, err := e.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "load customer")
	}
	current, err := e.tiers.FindByID(ctx, customer.TierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "load current tier")
	}
	candidates, err := e.tiers.ListAbove(ctx, current.Rank)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "list candidate tiers")
	}

	now := e.now().UTC()
	best := *current
	var bestProgress Progress
	byWindow := make(map[int]Progress)
	for _, tier := range candidates {
		progress, ok := byWindow[tier.WindowDays]
		if !ok {
			progress, err = e.progress(ctx, customerID, windowStart(now, tier.WindowDays))
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "count qualifying visits")
			}
			byWindow[tier.WindowDays] = progress
		}
		if progress.Meets(tier) && tier.Rank > best.Rank {
			best = tier
			bestProgress = progress
		}
	}

	result := &Evaluation{
		CustomerID: customerID,
		Previous:   *current,
		Current:    *current,
		Progress:   bestProgress,
	}
	if best.ID == current.ID {
		return result, nil
	}

	promoted := false
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.customers.UpdateTierWithTx(tx, customerID, current.ID, best.ID)
		if err != nil || !ok {
			return err
		}
		promoted = true
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTierPromoted,
			AggregateType: enums.AggregateCustomer,
			AggregateID:   customerID,
			OccurredAt:    now,
			Data: payloads.TierPromotedEvent{
				CustomerID:       customerID,
				FromTierID:       current.ID,
				FromTierName:     current.Name,
				ToTierID:         best.ID,
				ToTierName:       best.Name,
				ToTierRank:       best.Rank,
				QualifyingVisits: bestProgress.QualifyingVisits,
				DistinctVenues:   bestProgress.DistinctVenues,
				PromotedAt:       now,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tier promotion")
	}
	if !promoted {
		// A concurrent evaluation moved the customer first.
		return result, nil
	}

	result.Current = best
	result.Promoted = true
	e.metrics.IncPromotion(best.Name)
	logCtx := e.logg.WithFields(e.logg.WithCustomerID(ctx, customerID.String()), map[string]any{
		"from_tier":         current.Name,
		"to_tier":           best.Name,
		"qualifying_visits": bestProgress.QualifyingVisits,
		"distinct_venues":   bestProgress.DistinctVenues,
	})
	e.logg.Info(logCtx, "customer promoted")
	return result, nil
}

// ProgressToward reports the ledger view for tier without changing anything.
func (e *Evaluator) ProgressToward(ctx context.Context, customerID uuid.UUID, tier models.Tier) (Progress, error) {
	progress, err := e.progress(ctx, customerID, windowStart(e.now().UTC(), tier.WindowDays))
	if err != nil {
		return Progress{}, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "count qualifying visits")
	}
	return progress, nil
}

func (e *Evaluator) progress(ctx context.Context, customerID uuid.UUID, since time.Time) (Progress, error) {
	visits, err := e.ledger.CountQualifyingSince(ctx, customerID, since)
	if err != nil {
		return Progress{}, fmt.Errorf("qualifying visits: %w", err)
	}
	venues, err := e.ledger.CountDistinctVenuesSince(ctx, customerID, since)
	if err != nil {
		return Progress{}, fmt.Errorf("distinct venues: %w", err)
	}
	return Progress{QualifyingVisits: visits, DistinctVenues: venues}, nil
}

// windowStart returns the lower bound of a trailing window. A window of zero
// days means the whole history counts.
func windowStart(now time.Time, windowDays int) time.Time {
	if windowDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -windowDays)
}
