package customers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/lealtad-backend/internal/repo"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

// Repository handles customer persistence. Secret is never part of an update.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Create(ctx context.Context, customer *models.Customer) error {
	return r.DB(ctx).Create(customer).Error
}

// FindByID loads a customer; gorm.ErrRecordNotFound when missing.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.DB(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// LockByIDWithTx loads the customer row with FOR UPDATE so concurrent
// redemptions for the same customer queue behind each other.
func (r *Repository) LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Customer, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var customer models.Customer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// ActivateWithTx moves a pre-registered customer to active. It reports
// whether this call performed the transition.
func (r *Repository) ActivateWithTx(tx *gorm.DB, id uuid.UUID) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.Customer{}).
		Where("id = ? AND state = ?", id, enums.CustomerStatePreRegistered).
		Updates(map[string]any{
			"state":      enums.CustomerStateActive,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// UpdateTierWithTx moves the customer from one tier to another only if the
// stored tier is still from. A false result means another writer got there first.
func (r *Repository) UpdateTierWithTx(tx *gorm.DB, id, from, to uuid.UUID) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.Customer{}).
		Where("id = ? AND tier_id = ?", id, from).
		Updates(map[string]any{
			"tier_id":    to,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}
