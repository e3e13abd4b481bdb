package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/persistence/postgres"
	"github.com/example/training-booking/internal/persistence/storetest"
)

// The contract suite needs a disposable database; its tables are truncated
// before every case.
const dsnEnv = "BOOKING_TEST_POSTGRES_DSN"

func TestStoreContract(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	storetest.Run(t, func(t *testing.T) persistence.Store {
		store, err := postgres.Open(postgres.Config{DSN: dsn, MaxOpenConns: 8}, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		if err := store.DB().Exec("TRUNCATE payments, bookings, sessions, schedules, courses CASCADE").Error; err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		return store
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := postgres.Open(postgres.Config{}, nil); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
