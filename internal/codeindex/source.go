package codeindex

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// IndexableCustomer is the projection the builder needs.
type IndexableCustomer struct {
	ID     uuid.UUID
	Secret string
}

// CustomerSource pages through customers whose codes belong in the index.
type CustomerSource interface {
	ListIndexable(ctx context.Context, after uuid.UUID, limit int) ([]IndexableCustomer, error)
}

// Repository reads indexable customers with keyset pagination on id.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) ListIndexable(ctx context.Context, after uuid.UUID, limit int) ([]IndexableCustomer, error) {
	var rows []IndexableCustomer
	err := r.DB(ctx).
		Model(&models.Customer{}).
		Select("id", "secret").
		Where("state IN ?", []enums.CustomerState{enums.CustomerStatePreRegistered, enums.CustomerStateActive}).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
