package testfixtures

import (
	"context"
	"errors"
	"testing"

	"github.com/example/training-booking/internal/application"
)

func TestStackBookingLifecycle(t *testing.T) {
	t.Parallel()

	backends := []struct {
		name  string
		stack func(t *testing.T) *Stack
	}{
		{name: "memory", stack: func(t *testing.T) *Stack { return NewStack(t) }},
		{name: "sqlite", stack: func(t *testing.T) *Stack { return NewStack(t, WithStore(NewSQLiteStore(t))) }},
	}

	for _, backend := range backends {
		backend := backend
		t.Run(backend.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			stack := backend.stack(t)
			courseID := NewCourseID()
			stack.MustCourse(t, courseID, Course(WithCapacity(1), WithPrice(6000)))
			result := stack.MustSchedule(t, courseID, WeeklyRule("2025-02-03", "2025-02-16", "18:00", "20:00", 1, 3))
			if result.SessionsCreated != 4 {
				t.Fatalf("SessionsCreated = %d, want 4", result.SessionsCreated)
			}

			booking, err := stack.Services.Bookings.Reserve(ctx, Reserve(courseID, result.SessionIDs[0], result.SessionIDs[1]))
			if err != nil {
				t.Fatalf("Reserve() error = %v", err)
			}
			if booking.AmountDue != 6000 || booking.PricePerSession != 3000 {
				t.Fatalf("unexpected pricing %d / %d", booking.AmountDue, booking.PricePerSession)
			}

			_, err = stack.Services.Bookings.Reserve(ctx, Reserve(courseID, result.SessionIDs[1]))
			if !errors.Is(err, application.ErrSessionFull) {
				t.Fatalf("expected ErrSessionFull, got %v", err)
			}

			checkout, err := stack.Services.Reconciliation.InitiateCheckout(ctx, booking.ID)
			if err != nil {
				t.Fatalf("InitiateCheckout() error = %v", err)
			}
			if checkout.SessionID != "chk-0001" {
				t.Fatalf("unexpected checkout %+v", checkout)
			}

			paid, err := stack.Services.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, booking.AmountDue)
			if err != nil {
				t.Fatalf("OnPaymentConfirmed() error = %v", err)
			}
			if paid.State != application.StatePaid {
				t.Fatalf("state = %s, want paid", paid.State)
			}

			stack.Clock.Advance(DefaultHoldWindow * 2)
			expired, err := stack.Services.Reconciliation.ExpireHolds(ctx)
			if err != nil || expired != 0 {
				t.Fatalf("ExpireHolds() = %d, %v; a paid booking must not expire", expired, err)
			}
		})
	}
}

func TestCourseOptions(t *testing.T) {
	input := Course(WithLocation("loc-9", 4), WithInstructor("inst-9"))
	if input.LocationID != "loc-9" || input.LocationCapacity != 4 || input.InstructorID != "inst-9" {
		t.Fatalf("options not applied: %+v", input)
	}
	if a, b := Student(), Student(); a.ID == b.ID || a.Email == b.Email {
		t.Fatalf("students should be distinct: %+v %+v", a, b)
	}
}
