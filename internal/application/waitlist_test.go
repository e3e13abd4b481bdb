package application

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitlistParams(courseID, studentID string) JoinWaitlistParams {
	return JoinWaitlistParams{
		CourseID: courseID,
		Student:  Student{ID: studentID, Name: "Student " + studentID, Email: studentID + "@example.com"},
	}
}

func (h *harness) join(t *testing.T, params JoinWaitlistParams) WaitlistEntry {
	t.Helper()
	entry, err := h.svc.Bookings.JoinWaitlist(context.Background(), params)
	if err != nil {
		t.Fatalf("JoinWaitlist(%s) error = %v", params.Student.ID, err)
	}
	return entry
}

func (h *harness) waitlistEntry(t *testing.T, courseID, entryID string) WaitlistEntry {
	t.Helper()
	entries, err := h.svc.Bookings.ListWaitlist(context.Background(), courseID)
	if err != nil {
		t.Fatalf("ListWaitlist() error = %v", err)
	}
	for _, entry := range entries {
		if entry.ID == entryID {
			return entry
		}
	}
	t.Fatalf("waitlist entry %s not found", entryID)
	return WaitlistEntry{}
}

func TestBookingService_JoinWaitlist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1})
	h.course(t, "course-2", CourseInput{Capacity: 1, LocationID: "loc-2", InstructorID: "inst-2"})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	other := h.schedule(t, "course-2", onceRule("2025-02-01", "09:00", "10:00"))

	first := h.join(t, waitlistParams("course-1", "stu-a"))
	params := waitlistParams("course-1", "stu-b")
	params.SessionID = result.SessionIDs[0]
	second := h.join(t, params)

	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("positions = %d, %d, want 1, 2", first.Position, second.Position)
	}
	if first.Status != WaitlistWaiting || first.OfferExpiresAt != nil || second.SessionID != result.SessionIDs[0] {
		t.Fatalf("unexpected entries %+v %+v", first, second)
	}

	entries, err := h.svc.Bookings.ListWaitlist(ctx, "course-1")
	if err != nil {
		t.Fatalf("ListWaitlist() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("unexpected waitlist %+v", entries)
	}

	invalidEmail := waitlistParams("course-1", "stu-c")
	invalidEmail.Student.Email = "not-an-email"
	foreignSession := waitlistParams("course-1", "stu-c")
	foreignSession.SessionID = other.SessionIDs[0]

	tests := []struct {
		name   string
		params JoinWaitlistParams
		want   error
		field  string
	}{
		{name: "student already waiting", params: waitlistParams("course-1", "stu-a"), want: ErrAlreadyExists},
		{name: "unknown course", params: waitlistParams("course-x", "stu-c"), want: ErrCourseNotFound},
		{name: "missing student id", params: waitlistParams("course-1", ""), field: "student_id"},
		{name: "invalid email", params: invalidEmail, field: "student_email"},
		{name: "session of another course", params: foreignSession, field: "session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Bookings.JoinWaitlist(ctx, tt.params)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("JoinWaitlist() error = %v, want %v", err, tt.want)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tt.field]; !ok {
				t.Fatalf("expected field %s in %v", tt.field, vErr.FieldErrors)
			}
		})
	}

	if _, err := h.svc.Bookings.ListWaitlist(ctx, " "); err == nil {
		t.Fatalf("ListWaitlist without course id should fail")
	}
}

func TestBookingService_WithdrawOffersSeatToWaitlist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1, Price: 5000})
	result := h.schedule(t, "course-1", RuleInput{
		Kind: "daily", StartDate: "2025-02-03", EndDate: "2025-02-04", StartTime: "18:00", EndTime: "20:00",
	})
	booking := h.reserve(t, "course-1", result.SessionIDs[0])

	wantsOther := waitlistParams("course-1", "stu-a")
	wantsOther.SessionID = result.SessionIDs[1]
	skipped := h.join(t, wantsOther)
	next := h.join(t, waitlistParams("course-1", "stu-b"))

	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}

	offered := h.waitlistEntry(t, "course-1", next.ID)
	if offered.Status != WaitlistOffered || offered.OfferExpiresAt == nil {
		t.Fatalf("expected an offer, got %+v", offered)
	}
	if want := h.clock.Now().Add(24 * time.Hour); !offered.OfferExpiresAt.Equal(want) {
		t.Fatalf("OfferExpiresAt = %v, want %v", offered.OfferExpiresAt, want)
	}
	if got := h.waitlistEntry(t, "course-1", skipped.ID); got.Status != WaitlistWaiting {
		t.Fatalf("entry for another session should keep waiting, got %+v", got)
	}
	if h.events.count(EventWaitlistOffered) != 1 {
		t.Fatalf("expected one booking.waitlist_offered event")
	}

	// A repeated withdraw releases nothing and offers nothing.
	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); err != nil {
		t.Fatalf("second CancelBooking() error = %v", err)
	}
	if h.events.count(EventWaitlistOffered) != 1 {
		t.Fatalf("no-op withdraw must not offer again")
	}
}

func TestReconciliationService_ExpiredHoldOffersSeatToWaitlist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1, Price: 5000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	h.reserve(t, "course-1", result.SessionIDs[0])
	entry := h.join(t, waitlistParams("course-1", "stu-a"))

	h.clock.Advance(16 * time.Minute)
	expired, err := h.svc.Reconciliation.ExpireHolds(ctx)
	if err != nil || expired != 1 {
		t.Fatalf("ExpireHolds() = %d, %v", expired, err)
	}
	if got := h.waitlistEntry(t, "course-1", entry.ID); got.Status != WaitlistOffered {
		t.Fatalf("expected offer after hold expiry, got %+v", got)
	}
	if h.events.count(EventWaitlistOffered) != 1 {
		t.Fatalf("expected one booking.waitlist_offered event")
	}
}

func TestBookingService_ExpireWaitlistOffers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1, Price: 5000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	booking := h.reserve(t, "course-1", result.SessionIDs[0])
	first := h.join(t, waitlistParams("course-1", "stu-a"))
	second := h.join(t, waitlistParams("course-1", "stu-b"))

	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}

	h.clock.Advance(time.Hour)
	if n, err := h.svc.Bookings.ExpireWaitlistOffers(ctx); err != nil || n != 0 {
		t.Fatalf("offer inside its window expired: %d, %v", n, err)
	}

	h.clock.Advance(24 * time.Hour)
	n, err := h.svc.Bookings.ExpireWaitlistOffers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireWaitlistOffers() = %d, %v, want 1", n, err)
	}
	if got := h.waitlistEntry(t, "course-1", first.ID); got.Status != WaitlistExpired {
		t.Fatalf("first entry = %+v, want expired", got)
	}
	passed := h.waitlistEntry(t, "course-1", second.ID)
	if passed.Status != WaitlistOffered || passed.OfferExpiresAt == nil {
		t.Fatalf("seat should pass to the next entry, got %+v", passed)
	}
	if h.events.count(EventWaitlistOffered) != 2 {
		t.Fatalf("expected two booking.waitlist_offered events, got %d", h.events.count(EventWaitlistOffered))
	}

	if n, err := h.svc.Bookings.ExpireWaitlistOffers(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v, want 0", n, err)
	}
}

func TestBookingService_ReserveAcceptsWaitlistOffer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1, Price: 5000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	booking := h.reserve(t, "course-1", result.SessionIDs[0])
	entry := h.join(t, waitlistParams("course-1", "stu-a"))
	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}

	_, err := h.svc.Bookings.Reserve(ctx, ReserveParams{
		CourseID:   "course-1",
		SessionIDs: result.SessionIDs,
		Student:    Student{ID: "stu-a", Name: "Student stu-a", Email: "stu-a@example.com"},
	})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	got := h.waitlistEntry(t, "course-1", entry.ID)
	if got.Status != WaitlistAccepted || got.OfferExpiresAt != nil {
		t.Fatalf("entry = %+v, want accepted", got)
	}

	// An accepted entry no longer blocks joining again.
	if _, err := h.svc.Bookings.JoinWaitlist(ctx, waitlistParams("course-1", "stu-a")); err != nil {
		t.Fatalf("JoinWaitlist() after accept error = %v", err)
	}
}

func TestBookingService_LeaveWaitlist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Capacity: 1, Price: 5000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	booking := h.reserve(t, "course-1", result.SessionIDs[0])
	first := h.join(t, waitlistParams("course-1", "stu-a"))
	second := h.join(t, waitlistParams("course-1", "stu-b"))

	if err := h.svc.Bookings.LeaveWaitlist(ctx, first.ID, "stu-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("leaving another student's entry: error = %v, want ErrNotFound", err)
	}

	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}
	if got := h.waitlistEntry(t, "course-1", first.ID); got.Status != WaitlistOffered {
		t.Fatalf("first entry = %+v, want offered", got)
	}

	if err := h.svc.Bookings.LeaveWaitlist(ctx, first.ID, "stu-a"); err != nil {
		t.Fatalf("LeaveWaitlist() error = %v", err)
	}
	if err := h.svc.Bookings.LeaveWaitlist(ctx, first.ID, "stu-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second LeaveWaitlist() error = %v, want ErrNotFound", err)
	}

	entries, err := h.svc.Bookings.ListWaitlist(ctx, "course-1")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListWaitlist() = %+v, %v", entries, err)
	}
	if entries[0].ID != second.ID || entries[0].Status != WaitlistOffered {
		t.Fatalf("open offer should pass to the next entry, got %+v", entries[0])
	}

	third := h.join(t, waitlistParams("course-1", "stu-c"))
	if third.Position != 3 {
		t.Fatalf("position after a leave = %d, want 3", third.Position)
	}
}
