package tiers

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

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	var tier models.Tier
	if err := r.DB(ctx).Where("id = ?", id).First(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *Repository) FindByName(ctx context.Context, name string) (*models.Tier, error) {
	var tier models.Tier
	if err := r.DB(ctx).Where("name = ?", name).First(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

// ListAbove returns tiers ranked strictly above rank, lowest first.
func (r *Repository) ListAbove(ctx context.Context, rank int) ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.DB(ctx).Where("rank > ?", rank).Order("rank ASC").Find(&tiers).Error
	return tiers, err
}

// MaxWindowDays is the widest trailing window any promotable tier looks at.
// Zero means some tier counts the whole history.
func (r *Repository) MaxWindowDays(ctx context.Context) (int, error) {
	var unbounded int64
	if err := r.DB(ctx).Model(&models.Tier{}).
		Where("rank > 0 AND window_days <= 0").
		Count(&unbounded).Error; err != nil {
		return 0, err
	}
	if unbounded > 0 {
		return 0, nil
	}
	var max *int
	err := r.DB(ctx).Model(&models.Tier{}).Where("rank > 0").Select("MAX(window_days)").Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}
