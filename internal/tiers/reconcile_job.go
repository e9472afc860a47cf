package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

type activeCustomerLister interface {
	ListCustomersWithQualifyingSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type windowReader interface {
	MaxWindowDays(ctx context.Context) (int, error)
}

type evaluator interface {
	Evaluate(ctx context.Context, customerID uuid.UUID) (*Evaluation, error)
}

type ReconcileJobParams struct {
	Logger    *logger.Logger
	Evaluator evaluator
	Ledger    activeCustomerLister
	Tiers     windowReader
	Clock     func() time.Time
}

// ReconcileJob re-runs the evaluator for every customer with counting
// activity inside the widest tier window, catching promotions whose
// post-write evaluation failed.
type ReconcileJob struct {
	logg      *logger.Logger
	evaluator evaluator
	ledger    activeCustomerLister
	tiers     windowReader
	now       func() time.Time
}

func NewReconcileJob(params ReconcileJobParams) (*ReconcileJob, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Evaluator == nil {
		return nil, errors.New("evaluator required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if params.Tiers == nil {
		return nil, errors.New("tier reader required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ReconcileJob{
		logg:      params.Logger,
		evaluator: params.Evaluator,
		ledger:    params.Ledger,
		tiers:     params.Tiers,
		now:       clock,
	}, nil
}

func (j *ReconcileJob) Name() string { return "tier-reconcile" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	days, err := j.tiers.MaxWindowDays(ctx)
	if err != nil {
		return fmt.Errorf("read tier windows: %w", err)
	}
	since := windowStart(j.now().UTC(), days)
	ids, err := j.ledger.ListCustomersWithQualifyingSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list active customers: %w", err)
	}

	var errs error
	promoted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		result, err := j.evaluator.Evaluate(ctx, id)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("customer %s: %w", id, err))
			continue
		}
		if result.Promoted {
			promoted++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"customers": len(ids),
		"promoted":  promoted,
		"failed":    len(multierr.Errors(errs)),
		"since":     since,
	})
	j.logg.Info(logCtx, "tier reconcile complete")
	return errs
}
