package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/lealtad-backend/pkg/migrate"
)

func TestMigrationsDirOnDiskIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestRedemptionMigrationEnforcesLifetimeUniqueness(t *testing.T) {
	content := readMigration(t, "*_create_redemptions.sql")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS redemptions",
		"CONSTRAINT ux_redemptions_lifetime_key UNIQUE (lifetime_key)",
		"ix_redemptions_customer_benefit",
		"DROP TABLE IF EXISTS redemptions",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestVisitEventsMigrationIsAppendOnly(t *testing.T) {
	content := readMigration(t, "*_create_visit_events.sql")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS visit_events",
		"BEFORE UPDATE OR DELETE ON visit_events",
		"ix_visit_events_customer_occurred",
		"counts_toward_tier boolean NOT NULL DEFAULT false",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTierRanksAreUnique(t *testing.T) {
	content := readMigration(t, "*_create_tiers_venues.sql")
	if !strings.Contains(content, "CONSTRAINT ux_tiers_rank UNIQUE (rank)") {
		t.Fatal("tier rank must be unique")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Staff Pins")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_staff_pins.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
