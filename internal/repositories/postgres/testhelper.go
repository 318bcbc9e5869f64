package postgres

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/infrastructure/database"
	_ "github.com/lib/pq"
)

// SetupTestDB connects to the test database and runs migrations.
// The test is skipped when no database is configured or reachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping database test: %v", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Skipping database test: %v", err)
	}

	if err := pg.RunMigrations("../../../internal/infrastructure/database/migrations/postgres"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanTables(t, pg.DB)
	return pg.DB
}

// CleanupTestDB removes test data and closes the connection
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	cleanTables(t, db)
	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

func cleanTables(t *testing.T, db *sql.DB) {
	t.Helper()

	tables := []string{
		"decision_logs", "period_instances", "payment_status_rules",
		"period_rules", "phase_rules", "permission_grants",
	}
	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("Warning: Failed to clean up table %s: %v", table, err)
		}
	}
}
