package redemptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/tiers"
	pkgdb "github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/payloads"
)

// sqliteLifetimeColumn is how SQLite names the lifetime key in unique violations.
const sqliteLifetimeColumn = "redemptions.lifetime_key"

type serializableRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type customerLocker interface {
	LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Customer, error)
}

type benefitFinder interface {
	FindGranted(ctx context.Context, tx *gorm.DB, tierID, benefitID uuid.UUID) (*models.Benefit, error)
}

type usageLoader interface {
	Load(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, benefit models.Benefit, now time.Time) (benefits.Usage, error)
}

type ledgerWriter interface {
	CreateWithTx(tx *gorm.DB, event *models.VisitEvent) error
}

type redemptionWriter interface {
	CreateWithTx(tx *gorm.DB, redemption *models.Redemption) error
}

type venueLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Venue, error)
}

type tierEvaluator interface {
	Evaluate(ctx context.Context, customerID uuid.UUID) (*tiers.Evaluation, error)
}

type CoordinatorParams struct {
	DB          serializableRunner
	Customers   customerLocker
	Benefits    benefitFinder
	Usage       usageLoader
	Ledger      ledgerWriter
	Redemptions redemptionWriter
	Venues      venueLookup
	Tiers       tierEvaluator
	Outbox      outbox.Emitter
	Metrics     *metrics.LoyaltyMetrics
	Logger      *logger.Logger
	Retries     int
	Clock       func() time.Time
}

// Coordinator claims one unit of a benefit. The eligibility check and both
// writes run in one serializable transaction that first locks the customer
// row; lifetime benefits are additionally guarded by a unique index.
type Coordinator struct {
	db          serializableRunner
	customers   customerLocker
	benefits    benefitFinder
	usage       usageLoader
	ledger      ledgerWriter
	redemptions redemptionWriter
	venues      venueLookup
	tiers       tierEvaluator
	outbox      outbox.Emitter
	metrics     *metrics.LoyaltyMetrics
	logg        *logger.Logger
	retries     int
	now         func() time.Time
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db required")
	case params.Customers == nil:
		return nil, errors.New("customer repository required")
	case params.Benefits == nil:
		return nil, errors.New("benefit repository required")
	case params.Usage == nil:
		return nil, errors.New("usage loader required")
	case params.Ledger == nil:
		return nil, errors.New("visit ledger required")
	case params.Redemptions == nil:
		return nil, errors.New("redemption repository required")
	case params.Venues == nil:
		return nil, errors.New("venue repository required")
	case params.Tiers == nil:
		return nil, errors.New("tier evaluator required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	retries := params.Retries
	if retries < 0 {
		retries = 0
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		db:          params.DB,
		customers:   params.Customers,
		benefits:    params.Benefits,
		usage:       params.Usage,
		ledger:      params.Ledger,
		redemptions: params.Redemptions,
		venues:      params.Venues,
		tiers:       params.Tiers,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        logg,
		retries:     retries,
		now:         clock,
	}, nil
}

// Redeem commits the redemption or returns a typed refusal. ALREADY_REDEEMED,
// QUOTA_EXCEEDED and TRIGGER_NOT_ACTIVE are final; only serialization
// conflicts are retried, and only here.
func (c *Coordinator) Redeem(ctx context.Context, input RedeemInput) (*ResultDTO, error) {
	if input.CustomerID == uuid.Nil || input.BenefitID == uuid.Nil || input.VenueID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer_id, benefit_id and venue_id are required")
	}
	if input.Staff.StaffID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "staff context required")
	}
	if input.Staff.VenueID != nil && *input.Staff.VenueID != input.VenueID && input.Staff.Role != enums.StaffRoleManager {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff may only redeem at their own venue")
	}
	if _, err := c.venues.FindByID(ctx, input.VenueID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown venue")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load venue")
	}

	logCtx := c.logg.WithFields(c.logg.WithCustomerID(ctx, input.CustomerID.String()), map[string]any{
		"benefit_id": input.BenefitID.String(),
		"venue_id":   input.VenueID.String(),
		"staff_id":   input.Staff.StaffID,
	})

	var (
		result  *ResultDTO
		benefit *models.Benefit
		err     error
	)
	attempt := 0
	for {
		attempt++
		err = c.db.WithSerializableTx(ctx, func(tx *gorm.DB) error {
			var txErr error
			result, benefit, txErr = c.redeemTx(ctx, tx, input)
			return txErr
		})
		if err == nil || !pkgdb.IsSerializationFailure(err) || attempt > c.retries {
			break
		}
		c.metrics.IncSerializationRetry()
		c.logg.Warn(c.logg.WithField(logCtx, "attempt", attempt), "redemption serialization conflict; retrying")
	}

	if err != nil {
		err = c.classify(err)
		c.metrics.IncRedemption(outcomeFor(err))
		if pkgerrors.IsServerFault(err) {
			c.logg.Error(logCtx, "redemption failed", err)
		} else {
			c.logg.Info(c.logg.WithField(logCtx, "outcome", outcomeFor(err)), "redemption refused")
		}
		return nil, err
	}

	result.Attempts = attempt
	c.metrics.IncRedemption(metrics.OutcomeRedeemed)
	c.logg.Info(c.logg.WithField(logCtx, "redemption_id", result.RedemptionID.String()), "benefit redeemed")

	if benefit.CountsTowardTier {
		evaluation, evalErr := c.tiers.Evaluate(ctx, input.CustomerID)
		if evalErr != nil {
			c.logg.Error(logCtx, "tier evaluation after redemption failed", evalErr)
		} else if evaluation.Promoted {
			name := evaluation.Current.Name
			result.PromotedTo = &name
		}
	}
	return result, nil
}

func (c *Coordinator) redeemTx(ctx context.Context, tx *gorm.DB, input RedeemInput) (*ResultDTO, *models.Benefit, error) {
	customer, err := c.customers.LockByIDWithTx(tx, input.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, nil, fmt.Errorf("lock customer: %w", err)
	}
	if customer.State == enums.CustomerStateInactive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer is inactive")
	}

	benefit, err := c.benefits.FindGranted(ctx, tx, customer.TierID, input.BenefitID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "benefit is not available for this customer's tier")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "load benefit")
	}
	if benefit.DestinationVenueID != nil && *benefit.DestinationVenueID != input.VenueID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "benefit can only be redeemed at its destination venue")
	}

	now := c.now().UTC()
	usage, err := c.usage.Load(ctx, tx, customer.ID, *benefit, now)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeTierDataInconsistent, err, "load benefit usage")
	}
	assessment := benefits.Assess(*benefit, usage, now)
	if assessment.Status != benefits.StatusClaimable {
		return nil, nil, refusal(assessment)
	}

	venueID := input.VenueID
	benefitID := benefit.ID
	staffID := input.Staff.StaffID
	event := &models.VisitEvent{
		CustomerID:       customer.ID,
		VenueID:          &venueID,
		Kind:             enums.VisitEventKindBenefitRedeemed,
		Source:           enums.VisitSourceScan,
		CountsTowardTier: benefit.CountsTowardTier,
		OccurredAt:       now,
		BenefitID:        &benefitID,
		StaffID:          &staffID,
	}
	if err := c.ledger.CreateWithTx(tx, event); err != nil {
		return nil, nil, fmt.Errorf("write redemption visit: %w", err)
	}

	redemption := &models.Redemption{
		CustomerID:   customer.ID,
		BenefitID:    benefit.ID,
		VenueID:      venueID,
		VisitEventID: event.ID,
		StaffID:      staffID,
		OccurredAt:   now,
	}
	if benefit.LifetimeOnce {
		key := models.LifetimeKeyFor(customer.ID, benefit.ID)
		redemption.LifetimeKey = &key
	}
	if err := c.redemptions.CreateWithTx(tx, redemption); err != nil {
		return nil, nil, fmt.Errorf("write redemption: %w", err)
	}

	actorVenue := venueID
	err = c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventBenefitRedeemed,
		AggregateType: enums.AggregateRedemption,
		AggregateID:   redemption.ID,
		OccurredAt:    now,
		Actor: &outbox.ActorRef{
			StaffID: staffID,
			VenueID: &actorVenue,
			Role:    string(input.Staff.Role),
		},
		Data: payloads.BenefitRedeemedEvent{
			RedemptionID:     redemption.ID,
			CustomerID:       customer.ID,
			BenefitID:        benefit.ID,
			BenefitName:      benefit.Name,
			VenueID:          venueID,
			StaffID:          staffID,
			RetailValue:      benefit.RetailValue,
			CountsTowardTier: benefit.CountsTowardTier,
			RedeemedAt:       now,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("emit redemption event: %w", err)
	}

	return &ResultDTO{
		RedemptionID: redemption.ID,
		VisitEventID: event.ID,
		CustomerID:   customer.ID,
		BenefitID:    benefit.ID,
		BenefitName:  benefit.Name,
		VenueID:      venueID,
		RetailValue:  benefit.RetailValue,
		RedeemedAt:   now,
	}, benefit, nil
}

func (c *Coordinator) classify(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if pkgdb.IsUniqueViolation(err, models.LifetimeKeyConstraint) || pkgdb.IsUniqueViolation(err, sqliteLifetimeColumn) {
		return pkgerrors.New(pkgerrors.CodeAlreadyRedeemed, "benefit already redeemed")
	}
	if pkgdb.IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redemption contended; try again")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store redemption")
}

func refusal(a benefits.Assessment) error {
	switch a.Reason {
	case benefits.ReasonLifetimeRedeemed, benefits.ReasonTriggerConsumed:
		return pkgerrors.New(pkgerrors.CodeAlreadyRedeemed, "benefit already redeemed").
			WithDetails(map[string]any{"reason": a.Reason})
	case benefits.ReasonDailyQuotaMet, benefits.ReasonMonthlyQuotaMet:
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded, "benefit quota reached").
			WithDetails(map[string]any{"reason": a.Reason})
	case benefits.ReasonTriggerNotFired, benefits.ReasonTriggerExpired:
		return pkgerrors.New(pkgerrors.CodeTriggerNotActive, "benefit is not unlocked right now").
			WithDetails(map[string]any{"reason": a.Reason})
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "benefit is not claimable")
	}
}

func outcomeFor(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.OutcomeError
	}
	switch typed.Code() {
	case pkgerrors.CodeAlreadyRedeemed:
		return metrics.OutcomeAlreadyRedeemed
	case pkgerrors.CodeQuotaExceeded:
		return metrics.OutcomeQuotaExceeded
	case pkgerrors.CodeTriggerNotActive:
		return metrics.OutcomeTriggerInactive
	default:
		return metrics.OutcomeError
	}
}
