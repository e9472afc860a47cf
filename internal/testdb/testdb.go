// Package testdb opens throwaway SQLite databases carrying the loyalty schema.
package testdb

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

var phoneSeq atomic.Int64

// Open returns a migrated file-backed SQLite database removed when t ends.
// Transactions take the write lock on BEGIN so concurrent writers queue.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lealtad.db")
	dsn := "file:" + path + "?_busy_timeout=5000&_txlock=immediate"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Program is the seeded tier ladder and the two venues.
type Program struct {
	Bronce  models.Tier
	Plata   models.Tier
	Oro     models.Tier
	Cafe    models.Venue
	CarWash models.Venue
}

// Tiers returns the ladder in rank order.
func (p Program) Tiers() []models.Tier {
	return []models.Tier{p.Bronce, p.Plata, p.Oro}
}

// SeedProgram inserts the same ladder the seed migration ships.
func SeedProgram(t testing.TB, db *gorm.DB) Program {
	t.Helper()
	p := Program{
		Bronce:  models.Tier{Name: "Bronce", Rank: 0},
		Plata:   models.Tier{Name: "Plata", Rank: 1, MinQualifyingVisits: 6, WindowDays: 30},
		Oro:     models.Tier{Name: "Oro", Rank: 2, MinQualifyingVisits: 12, WindowDays: 60, MinDistinctVenues: 2},
		Cafe:    models.Venue{Name: "Cafe", Kind: enums.VenueKindCafe},
		CarWash: models.Venue{Name: "Autolavado", Kind: enums.VenueKindCarWash},
	}
	for _, row := range []any{&p.Bronce, &p.Plata, &p.Oro, &p.Cafe, &p.CarWash} {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed program: %v", err)
		}
	}
	return p
}

// SeedCustomer inserts a customer with a fresh secret.
func SeedCustomer(t testing.TB, db *gorm.DB, tier models.Tier, state enums.CustomerState) models.Customer {
	t.Helper()
	secret, err := rotatingcode.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	customer := models.Customer{
		ID:     uuid.New(),
		Phone:  fmt.Sprintf("+52155%08d", phoneSeq.Add(1)),
		Secret: secret,
		State:  state,
		TierID: tier.ID,
	}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

// SeedBenefit inserts benefit and grants it to the given tiers.
func SeedBenefit(t testing.TB, db *gorm.DB, benefit models.Benefit, tiers ...models.Tier) models.Benefit {
	t.Helper()
	if err := db.Create(&benefit).Error; err != nil {
		t.Fatalf("seed benefit: %v", err)
	}
	for _, tier := range tiers {
		grant := models.TierBenefitGrant{TierID: tier.ID, BenefitID: benefit.ID}
		if err := db.Create(&grant).Error; err != nil {
			t.Fatalf("seed grant: %v", err)
		}
	}
	return benefit
}

// IntPtr is shorthand for optional quota columns.
func IntPtr(v int) *int { return &v }

// StringPtr is shorthand for optional text columns.
func StringPtr(v string) *string { return &v }
