package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/persistence/sqlite"
	"github.com/example/training-booking/internal/persistence/sqlite/migration"
	"github.com/example/training-booking/internal/persistence/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(migration.InMemoryTestSQLiteConfig(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) persistence.Store {
		return newTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestSessionsRequireKnownSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.UpsertCourse(ctx, storetest.Course("course-1")); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	sched := persistence.Schedule{ID: "sched-1", CourseID: "missing-course", Kind: "once", StartDate: "2025-01-06", EndDate: "2025-01-06", StartTime: "09:00", EndTime: "10:00"}
	err := store.CreateSchedule(ctx, sched, nil)
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
}

func TestEnrollmentCheckConstraint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.UpsertCourse(ctx, storetest.Course("course-1")); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	bad := storetest.Session("s-1", "course-1", "sched-1", "2025-01-06", "09:00", "10:00", 1)
	bad.CurrentEnrollment = 2
	sched := persistence.Schedule{ID: "sched-1", CourseID: "course-1", Kind: "once", StartDate: "2025-01-06", EndDate: "2025-01-06", StartTime: "09:00", EndTime: "10:00"}
	if err := store.CreateSchedule(ctx, sched, []persistence.Session{bad}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if _, err := store.GetSchedule(ctx, "sched-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("schedule persisted after failed batch: %v", err)
	}
}
