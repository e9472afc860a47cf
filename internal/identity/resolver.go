// Package identity turns a scanned or typed rotating code into a customer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/codeindex"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

type customerLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type ResolverParams struct {
	Index     codeindex.Reader
	Generator *rotatingcode.Generator
	Customers customerLookup
	Metrics   *metrics.LoyaltyMetrics
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Resolution is a code that matched exactly one live customer.
type Resolution struct {
	Customer customers.CustomerDTO `json:"customer"`
	Step     int64                 `json:"step"`
}

// Resolver looks codes up in the published index. It never picks between
// candidates: two customers sharing a code is CODE_AMBIGUOUS.
type Resolver struct {
	index     codeindex.Reader
	gen       *rotatingcode.Generator
	customers customerLookup
	metrics   *metrics.LoyaltyMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Index == nil {
		return nil, errors.New("code index reader required")
	}
	if params.Generator == nil {
		return nil, errors.New("code generator required")
	}
	if params.Customers == nil {
		return nil, errors.New("customer lookup required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		index:     params.Index,
		gen:       params.Generator,
		customers: params.Customers,
		metrics:   params.Metrics,
		logg:      logg,
		now:       clock,
	}, nil
}

// Resolve accepts the scannable payload or the hand-typed form.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Resolution, error) {
	code, ok := r.gen.Normalize(input)
	if !ok {
		r.metrics.IncResolution(metrics.OutcomeNotFound)
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("code must be %d digits", r.gen.Digits()))
	}

	started := r.now()
	step := r.gen.Step(started)
	match, err := r.index.Lookup(ctx, code, r.gen.DriftWindow(step))
	if err != nil {
		r.metrics.IncResolution(metrics.OutcomeError)
		if errors.Is(err, codeindex.ErrNotReady) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "code index is warming up")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "code index lookup")
	}

	if lag := step - match.BuiltStep; lag > int64(r.gen.DriftSteps()) {
		r.metrics.IncResolution(metrics.OutcomeStale)
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"built_step":   match.BuiltStep,
			"current_step": step,
		}), "code index is stale")
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "code index is stale").
			WithDetails(map[string]any{"lag_steps": lag})
	}
	if elapsed := r.now().Sub(started); elapsed > r.gen.StepDuration() {
		r.metrics.IncResolution(metrics.OutcomeStale)
		r.logg.Warn(r.logg.WithField(ctx, "elapsed", elapsed.String()), "code lookup outlived its step")
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "code lookup timed out")
	}

	switch len(match.Candidates) {
	case 0:
		r.metrics.IncResolution(metrics.OutcomeNotFound)
		return nil, pkgerrors.New(pkgerrors.CodeCodeNotFound, "code not recognised")
	case 1:
	default:
		r.metrics.IncResolution(metrics.OutcomeAmbiguous)
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"step":       step,
			"candidates": len(match.Candidates),
		}), "ambiguous code")
		return nil, pkgerrors.New(pkgerrors.CodeCodeAmbiguous, "code matches more than one customer; ask for a fresh code")
	}

	customer, err := r.customers.FindByID(ctx, match.Candidates[0])
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Index built before the customer row went away.
			r.metrics.IncResolution(metrics.OutcomeNotFound)
			return nil, pkgerrors.New(pkgerrors.CodeCodeNotFound, "code not recognised")
		}
		r.metrics.IncResolution(metrics.OutcomeError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resolved customer")
	}
	if customer.State == enums.CustomerStateInactive {
		r.metrics.IncResolution(metrics.OutcomeError)
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer is inactive")
	}

	r.metrics.IncResolution(metrics.OutcomeResolved)
	return &Resolution{Customer: *customers.FromModel(customer), Step: step}, nil
}
