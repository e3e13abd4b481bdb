package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/training-booking/internal/persistence/sqlite"
	"github.com/example/training-booking/internal/persistence/sqlite/migration"
)

// DefaultHoldWindow is the payment hold NewStack configures.
const DefaultHoldWindow = 15 * time.Minute

// NewSQLiteStore opens and migrates a SQLite store in a temporary directory.
// It is closed when the test ends.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "booking.db")
	store, err := sqlite.Open(migration.DefaultSQLiteConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}
