package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestDSNEnv names the environment variable that points integration tests at
// a disposable PostgreSQL database.
const TestDSNEnv = "REPRO_TEST_DATABASE_DSN"

// SetupTestDB connects to the database named by REPRO_TEST_DATABASE_DSN,
// applies the schema and truncates the results table. The test is skipped
// when the variable is unset.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv(TestDSNEnv)
	if dsn == "" {
		t.Skipf("integration test - set %s to run", TestDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewDBFromDSN(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("failed to create test database connection: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE backtest_results"); err != nil {
		db.Close()
		t.Fatalf("failed to truncate test database: %v", err)
	}
	return db
}
