package benefits

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// ListGrantedToTier returns the tier's live benefits ordered by name.
func (r *Repository) ListGrantedToTier(ctx context.Context, tierID uuid.UUID) ([]models.Benefit, error) {
	var benefits []models.Benefit
	err := r.DB(ctx).
		Joins("JOIN tier_benefit_grants g ON g.benefit_id = benefits.id").
		Where("g.tier_id = ?", tierID).
		Where("benefits.retired_at IS NULL").
		Order("benefits.name ASC").
		Find(&benefits).Error
	return benefits, err
}

// FindGranted loads benefitID only if tierID grants it and it is not retired.
// tx may be nil.
func (r *Repository) FindGranted(ctx context.Context, tx *gorm.DB, tierID, benefitID uuid.UUID) (*models.Benefit, error) {
	var benefit models.Benefit
	err := r.Conn(ctx, tx).
		Joins("JOIN tier_benefit_grants g ON g.benefit_id = benefits.id").
		Where("g.tier_id = ? AND benefits.id = ?", tierID, benefitID).
		Where("benefits.retired_at IS NULL").
		Take(&benefit).Error
	if err != nil {
		return nil, err
	}
	return &benefit, nil
}
