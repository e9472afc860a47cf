package visits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// Repository is the visit ledger. It only inserts and reads; there is no
// update or delete path for visit_events.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) CreateWithTx(tx *gorm.DB, event *models.VisitEvent) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if event.OccurredAt.IsZero() {
		return errors.New("occurred_at required")
	}
	event.OccurredAt = event.OccurredAt.UTC()
	return tx.Create(event).Error
}

// ListByCustomer returns events in [from, to), newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time, limit int) ([]models.VisitEvent, error) {
	var events []models.VisitEvent
	err := r.DB(ctx).
		Where("customer_id = ?", customerID).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListByVenue returns events in [from, to) at one venue, newest first.
func (r *Repository) ListByVenue(ctx context.Context, venueID uuid.UUID, from, to time.Time, limit int) ([]models.VisitEvent, error) {
	var events []models.VisitEvent
	err := r.DB(ctx).
		Where("venue_id = ?", venueID).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CountQualifyingSince counts events flagged counts_toward_tier at or after since.
func (r *Repository) CountQualifyingSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.VisitEvent{}).
		Where("customer_id = ? AND counts_toward_tier = ? AND occurred_at >= ?", customerID, true, since.UTC()).
		Count(&count).Error
	return count, err
}

// CountDistinctVenuesSince counts distinct venues among the qualifying
// events. Synthetic credits carry no venue and never add diversity.
func (r *Repository) CountDistinctVenuesSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.VisitEvent{}).
		Where("customer_id = ? AND counts_toward_tier = ? AND occurred_at >= ?", customerID, true, since.UTC()).
		Where("venue_id IS NOT NULL").
		Distinct("venue_id").
		Count(&count).Error
	return count, err
}

// LastExternalState returns the newest external state event carrying value,
// or nil when the customer never reported it. tx may be nil.
func (r *Repository) LastExternalState(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, value string) (*models.VisitEvent, error) {
	var event models.VisitEvent
	err := r.Conn(ctx, tx).
		Where("customer_id = ? AND kind = ? AND external_state_value = ?",
			customerID, enums.VisitEventKindExternalStateChange, value).
		Order("occurred_at DESC").
		Limit(1).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// ListCustomersWithQualifyingSince returns every customer with at least one
// counting event at or after since.
func (r *Repository) ListCustomersWithQualifyingSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).
		Model(&models.VisitEvent{}).
		Where("counts_toward_tier = ? AND occurred_at >= ?", true, since.UTC()).
		Distinct().
		Pluck("customer_id", &ids).Error
	return ids, err
}
