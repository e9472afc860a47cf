package redemptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

// Repository stores redemption records. Only the coordinator writes here.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) CreateWithTx(tx *gorm.DB, redemption *models.Redemption) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	redemption.OccurredAt = redemption.OccurredAt.UTC()
	return tx.Create(redemption).Error
}

// CountSince counts redemptions of benefitID at or after since. tx may be nil.
func (r *Repository) CountSince(ctx context.Context, tx *gorm.DB, customerID, benefitID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.Conn(ctx, tx).
		Model(&models.Redemption{}).
		Where("customer_id = ? AND benefit_id = ? AND occurred_at >= ?", customerID, benefitID, since.UTC()).
		Count(&count).Error
	return count, err
}

// LastRedeemedAt returns the newest redemption time, or nil. tx may be nil.
func (r *Repository) LastRedeemedAt(ctx context.Context, tx *gorm.DB, customerID, benefitID uuid.UUID) (*time.Time, error) {
	var last models.Redemption
	err := r.Conn(ctx, tx).
		Where("customer_id = ? AND benefit_id = ?", customerID, benefitID).
		Order("occurred_at DESC").
		Limit(1).
		Take(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	at := last.OccurredAt
	return &at, nil
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]models.Redemption, error) {
	var rows []models.Redemption
	err := r.DB(ctx).
		Where("customer_id = ?", customerID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
