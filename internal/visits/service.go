package visits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/tiers"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/payloads"
)

const (
	defaultListWindow = 30 * 24 * time.Hour
	maxListWindow     = 366 * 24 * time.Hour
	listLimit         = 500
	// Feed timestamps further ahead than this are treated as clock errors.
	maxFutureSkew = 5 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerStore interface {
	CreateWithTx(tx *gorm.DB, event *models.VisitEvent) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time, limit int) ([]models.VisitEvent, error)
	ListByVenue(ctx context.Context, venueID uuid.UUID, from, to time.Time, limit int) ([]models.VisitEvent, error)
}

type customerStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	ActivateWithTx(tx *gorm.DB, id uuid.UUID) (bool, error)
}

type venueLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Venue, error)
}

type tierEvaluator interface {
	Evaluate(ctx context.Context, customerID uuid.UUID) (*tiers.Evaluation, error)
}

// Service writes to and reads from the visit ledger.
type Service interface {
	RecordVisit(ctx context.Context, input RecordVisitInput) (*RecordVisitResult, error)
	RecordExternalState(ctx context.Context, input RecordExternalStateInput) (*VisitDTO, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]VisitDTO, error)
	ListByVenue(ctx context.Context, venueID uuid.UUID, from, to time.Time) ([]VisitDTO, error)
}

type ServiceParams struct {
	DB        txRunner
	Ledger    ledgerStore
	Customers customerStore
	Venues    venueLookup
	Tiers     tierEvaluator
	// Outbox receives customer_activated signals; nil disables them.
	Outbox outbox.Emitter
	Logger *logger.Logger
	Clock  func() time.Time
}

type service struct {
	db        txRunner
	ledger    ledgerStore
	customers customerStore
	venues    venueLookup
	tiers     tierEvaluator
	outbox    outbox.Emitter
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	if params.Venues == nil {
		return nil, fmt.Errorf("venue repository required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tier evaluator required")
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
		db:        params.DB,
		ledger:    params.Ledger,
		customers: params.Customers,
		venues:    params.Venues,
		tiers:     params.Tiers,
		outbox:    params.Outbox,
		logg:      logg,
		now:       clock,
	}, nil
}

func (s *service) RecordVisit(ctx context.Context, input RecordVisitInput) (*RecordVisitResult, error) {
	switch input.Source {
	case enums.VisitSourceScan, enums.VisitSourceManual:
		if input.VenueID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue_id is required for a physical visit")
		}
	case enums.VisitSourceBonus:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("source %q cannot record a visit", input.Source))
	}
	if input.VenueID != nil {
		if err := s.ensureVenue(ctx, *input.VenueID); err != nil {
			return nil, err
		}
	}
	customer, err := s.activeCustomer(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}

	event := &models.VisitEvent{
		CustomerID:       customer.ID,
		VenueID:          input.VenueID,
		Kind:             enums.VisitEventKindVisit,
		Source:           input.Source,
		CountsTowardTier: input.CountsTowardTier,
		OccurredAt:       s.now().UTC(),
		StaffID:          optionalString(input.StaffID),
	}
	activated := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ledger.CreateWithTx(tx, event); err != nil {
			return err
		}
		if customer.State == enums.CustomerStatePreRegistered {
			ok, err := s.customers.ActivateWithTx(tx, customer.ID)
			if err != nil {
				return err
			}
			activated = ok
		}
		if activated && s.outbox != nil {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCustomerActivated,
				AggregateType: enums.AggregateCustomer,
				AggregateID:   customer.ID,
				OccurredAt:    event.OccurredAt,
				Data: payloads.CustomerActivatedEvent{
					CustomerID:  customer.ID,
					VenueID:     event.VenueID,
					Source:      event.Source,
					StaffID:     input.StaffID,
					ActivatedAt: event.OccurredAt,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record visit")
	}

	result := &RecordVisitResult{Visit: FromModel(event), Activated: activated}
	if event.CountsTowardTier {
		result.Promotion = s.reevaluate(ctx, customer.ID)
	}
	return result, nil
}

// reevaluate runs the tier evaluator after a counting write. The visit is
// already committed, so a failure here is logged and left to the reconcile job.
func (s *service) reevaluate(ctx context.Context, customerID uuid.UUID) *TierChangeDTO {
	evaluation, err := s.tiers.Evaluate(ctx, customerID)
	if err != nil {
		s.logg.Error(s.logg.WithCustomerID(ctx, customerID.String()), "tier evaluation after visit failed", err)
		return nil
	}
	if !evaluation.Promoted {
		return nil
	}
	return &TierChangeDTO{
		FromTierID: evaluation.Previous.ID,
		ToTierID:   evaluation.Current.ID,
		ToTierName: evaluation.Current.Name,
	}
}

func (s *service) RecordExternalState(ctx context.Context, input RecordExternalStateInput) (*VisitDTO, error) {
	value := strings.TrimSpace(input.Value)
	if value == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "state value is required")
	}
	now := s.now().UTC()
	occurredAt := input.OccurredAt.UTC()
	if input.OccurredAt.IsZero() {
		occurredAt = now
	}
	if occurredAt.After(now.Add(maxFutureSkew)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "occurred_at is in the future")
	}
	if input.VenueID != nil {
		if err := s.ensureVenue(ctx, *input.VenueID); err != nil {
			return nil, err
		}
	}
	customer, err := s.activeCustomer(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}

	event := &models.VisitEvent{
		CustomerID:         customer.ID,
		VenueID:            input.VenueID,
		Kind:               enums.VisitEventKindExternalStateChange,
		Source:             enums.VisitSourceFeed,
		OccurredAt:         occurredAt,
		ExternalStateValue: &value,
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ledger.CreateWithTx(tx, event)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record external state")
	}
	dto := FromModel(event)
	return &dto, nil
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]VisitDTO, error) {
	from, to, err := s.listRange(from, to)
	if err != nil {
		return nil, err
	}
	events, err := s.ledger.ListByCustomer(ctx, customerID, from, to, listLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer visits")
	}
	return toDTOs(events), nil
}

func (s *service) ListByVenue(ctx context.Context, venueID uuid.UUID, from, to time.Time) ([]VisitDTO, error) {
	from, to, err := s.listRange(from, to)
	if err != nil {
		return nil, err
	}
	events, err := s.ledger.ListByVenue(ctx, venueID, from, to, listLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list venue visits")
	}
	return toDTOs(events), nil
}

func (s *service) listRange(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultListWindow)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if to.Sub(from) > maxListWindow {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "range must not exceed 366 days")
	}
	return from, to, nil
}

func (s *service) activeCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.customers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if customer.State == enums.CustomerStateInactive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer is inactive")
	}
	return customer, nil
}

func (s *service) ensureVenue(ctx context.Context, id uuid.UUID) error {
	if _, err := s.venues.FindByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeValidation, "unknown venue")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load venue")
	}
	return nil
}

func toDTOs(events []models.VisitEvent) []VisitDTO {
	out := make([]VisitDTO, 0, len(events))
	for i := range events {
		out = append(out, FromModel(&events[i]))
	}
	return out
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
