package testutil

import (
	"path/filepath"
	"testing"

	"github.com/futsalmandu/futsalmandu/internal/db"
)

// NewTestDB creates a temporary SQLite database with migrations applied.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	// Concurrency tests hit the file from several connections; without a busy
	// timeout the losers would fail with SQLITE_BUSY instead of waiting.
	dbPath := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}
