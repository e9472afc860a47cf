package benefits

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
)

type customerLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type tierLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
}

type grantReader interface {
	ListGrantedToTier(ctx context.Context, tierID uuid.UUID) ([]models.Benefit, error)
}

type usageLoader interface {
	Load(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, benefit models.Benefit, now time.Time) (Usage, error)
}

// Service evaluates which of a customer's granted benefits can be claimed now.
type Service interface {
	GetEligibility(ctx context.Context, customerID uuid.UUID) (*EligibilityDTO, error)
}

type ServiceParams struct {
	Customers customerLookup
	Tiers     tierLookup
	Grants    grantReader
	Usage     usageLoader
	Logger    *logger.Logger
	Clock     func() time.Time
}

type service struct {
	customers customerLookup
	tiers     tierLookup
	grants    grantReader
	usage     usageLoader
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Customers == nil {
		return nil, fmt.Errorf("customer lookup required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tier lookup required")
	}
	if params.Grants == nil {
		return nil, fmt.Errorf("benefit repository required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage loader required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		customers: params.Customers,
		tiers:     params.Tiers,
		grants:    params.Grants,
		usage:     params.Usage,
		logg:      logg,
		now:       clock,
	}, nil
}

func (s *service) GetEligibility(ctx context.Context, customerID uuid.UUID) (*EligibilityDTO, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if customer.State == enums.CustomerStateInactive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer is inactive")
	}
	tier, err := s.tiers.FindByID(ctx, customer.TierID)
	if err != nil {
		return nil, s.inconsistent(ctx, customerID, err, "load customer tier")
	}
	granted, err := s.grants.ListGrantedToTier(ctx, tier.ID)
	if err != nil {
		return nil, s.inconsistent(ctx, customerID, err, "list granted benefits")
	}

	now := s.now().UTC()
	out := &EligibilityDTO{
		CustomerID:  customerID,
		Tier:        TierDTO{ID: tier.ID, Name: tier.Name, Rank: tier.Rank},
		Claimable:   []BenefitStatusDTO{},
		Pending:     []BenefitStatusDTO{},
		Exhausted:   []BenefitStatusDTO{},
		EvaluatedAt: now,
	}
	for _, benefit := range granted {
		usage, err := s.usage.Load(ctx, nil, customerID, benefit, now)
		if err != nil {
			return nil, s.inconsistent(ctx, customerID, err, "load benefit usage")
		}
		assessment := Assess(benefit, usage, now)
		status := statusFrom(benefit, assessment)
		switch assessment.Status {
		case StatusClaimable:
			out.Claimable = append(out.Claimable, status)
		case StatusPending:
			out.Pending = append(out.Pending, status)
		default:
			out.Exhausted = append(out.Exhausted, status)
		}
	}
	return out, nil
}

func (s *service) inconsistent(ctx context.Context, customerID uuid.UUID, err error, msg string) error {
	s.logg.Error(s.logg.WithCustomerID(ctx, customerID.String()), msg, err)
	return pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, msg)
}
