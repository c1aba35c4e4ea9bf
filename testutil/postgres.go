// Package testutil holds shared test fixtures: a Postgres-backed store that skips
// without TEST_PG_DSN, a temp-file bbolt store, and a scripted BattleMetrics API.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/arkpop/db"
)

// SetupTestDB opens a migrated, emptied Postgres store.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *db.PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	s, err := db.OpenPostgres(dsn, db.Options{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, s.DB); err != nil {
		s.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	for _, tbl := range []string{"population_samples", "monitored_servers", "oauth_tokens"} {
		if _, err := s.DB.ExecContext(ctx, "DELETE FROM "+tbl); err != nil {
			s.Close()
			t.Fatalf("failed to clean %s: %v", tbl, err)
		}
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewBoltStore opens a bbolt store in a temp dir. now may be nil.
func NewBoltStore(t *testing.T, now func() time.Time) *db.BoltStore {
	t.Helper()
	s, err := db.OpenBolt(filepath.Join(t.TempDir(), "arkpop.db"), db.Options{Now: now})
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
