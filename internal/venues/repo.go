package venues

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
)

// Repository reads the venues a staff token can be scoped to.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Venue, error) {
	var venue models.Venue
	if err := r.DB(ctx).Where("id = ?", id).First(&venue).Error; err != nil {
		return nil, err
	}
	return &venue, nil
}

func (r *Repository) List(ctx context.Context) ([]models.Venue, error) {
	var venues []models.Venue
	err := r.DB(ctx).Order("name ASC").Find(&venues).Error
	return venues, err
}
