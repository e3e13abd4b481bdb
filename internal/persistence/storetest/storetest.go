// Package storetest holds the behavioural contract every persistence.Store
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/training-booking/internal/persistence"
)

// Factory returns a freshly migrated, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.Store

var reference = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("courses upsert and read back", func(t *testing.T) { testCourses(t, newStore) })
	t.Run("schedule batch is atomic", func(t *testing.T) { testScheduleBatch(t, newStore) })
	t.Run("sessions filter and order", func(t *testing.T) { testSessionQueries(t, newStore) })
	t.Run("session status is version checked", func(t *testing.T) { testSessionStatus(t, newStore) })
	t.Run("reserve claims seats atomically", func(t *testing.T) { testReserve(t, newStore) })
	t.Run("reserve never oversells", func(t *testing.T) { testReserveConcurrent(t, newStore) })
	t.Run("booking update and release", func(t *testing.T) { testBookingUpdates(t, newStore) })
	t.Run("booking queries", func(t *testing.T) { testBookingQueries(t, newStore) })
	t.Run("booking times compare below one second", func(t *testing.T) { testSubSecondTimes(t, newStore) })
	t.Run("payments ledger", func(t *testing.T) { testPayments(t, newStore) })
	t.Run("waitlist queue", func(t *testing.T) { testWaitlist(t, newStore) })
}

func open(t *testing.T, newStore Factory) persistence.Store {
	t.Helper()
	store := newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	return store
}

// Course returns a course fixture.
func Course(id string) persistence.Course {
	return persistence.Course{
		ID:           id,
		SchoolID:     "school-1",
		Title:        "Course " + id,
		LocationID:   "loc-1",
		InstructorID: "ins-1",
		Capacity:     20,
		Price:        12000,
		Currency:     "JPY",
		CreatedAt:    reference,
		UpdatedAt:    reference,
	}
}

// Session returns a scheduled session fixture.
func Session(id, courseID, scheduleID, date, start, end string, capacity int) persistence.Session {
	return persistence.Session{
		ID:           id,
		CourseID:     courseID,
		ScheduleID:   scheduleID,
		LocationID:   "loc-1",
		InstructorID: "ins-1",
		Date:         date,
		StartTime:    start,
		EndTime:      end,
		MaxCapacity:  capacity,
		Status:       persistence.SessionScheduled,
		Version:      1,
		CreatedAt:    reference,
		UpdatedAt:    reference,
	}
}

// Booking returns a pending booking fixture.
func Booking(id, courseID string, sessionIDs ...string) persistence.Booking {
	return persistence.Booking{
		ID:              id,
		CourseID:        courseID,
		StudentID:       "student-1",
		SessionIDs:      sessionIDs,
		StudentName:     "Hanako",
		StudentEmail:    "hanako@example.com",
		Status:          "pending",
		PaymentStatus:   "unpaid",
		State:           "created",
		AmountDue:       12000,
		PricePerSession: 12000 / int64(max(len(sessionIDs), 1)),
		Currency:        "JPY",
		HoldExpiresAt:   reference.Add(30 * time.Minute),
		BookingDate:     reference,
		Version:         1,
		UpdatedAt:       reference,
	}
}

func schedule(id, courseID string) persistence.Schedule {
	return persistence.Schedule{
		ID:        id,
		CourseID:  courseID,
		Kind:      "weekly",
		StartDate: "2025-01-06",
		EndDate:   "2025-01-17",
		StartTime: "09:00",
		EndTime:   "10:00",
		Weekdays:  []int{1, 3, 5},
		CreatedAt: reference,
	}
}

func seed(t *testing.T, store persistence.Store, capacity int, sessionIDs ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertCourse(ctx, Course("course-1")); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	sessions := make([]persistence.Session, 0, len(sessionIDs))
	for i, id := range sessionIDs {
		sessions = append(sessions, Session(id, "course-1", "sched-1", fmt.Sprintf("2025-01-%02d", 6+i), "09:00", "10:00", capacity))
	}
	sched := schedule("sched-1", "course-1")
	sched.SessionCount = len(sessions)
	if err := store.CreateSchedule(ctx, sched, sessions); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
}

func testCourses(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)

	course := Course("course-1")
	if err := store.UpsertCourse(ctx, course); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	course.Title = "Renamed"
	course.Deleted = true
	course.UpdatedAt = reference.Add(time.Hour)
	if err := store.UpsertCourse(ctx, course); err != nil {
		t.Fatalf("UpsertCourse (update) failed: %v", err)
	}

	got, err := store.GetCourse(ctx, "course-1")
	if err != nil {
		t.Fatalf("GetCourse failed: %v", err)
	}
	if got.Title != "Renamed" || !got.Deleted || got.Capacity != 20 || got.Price != 12000 {
		t.Fatalf("unexpected course %#v", got)
	}

	if _, err := store.GetCourse(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.UpsertCourse(ctx, Course("course-0")); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	courses, err := store.ListCourses(ctx)
	if err != nil {
		t.Fatalf("ListCourses failed: %v", err)
	}
	if len(courses) != 2 || courses[0].ID != "course-0" {
		t.Fatalf("unexpected courses %#v", courses)
	}
}

func testScheduleBatch(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 5, "s-1", "s-2")

	sched, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if sched.SessionCount != 2 || len(sched.Weekdays) != 3 || sched.Weekdays[2] != 5 || sched.StartTime != "09:00" {
		t.Fatalf("unexpected schedule %#v", sched)
	}

	// A batch that collides with an existing session id must leave nothing behind.
	second := schedule("sched-2", "course-1")
	err = store.CreateSchedule(ctx, second, []persistence.Session{
		Session("s-3", "course-1", "sched-2", "2025-02-01", "09:00", "10:00", 5),
		Session("s-1", "course-1", "sched-2", "2025-02-02", "09:00", "10:00", 5),
	})
	if err == nil {
		t.Fatal("expected duplicate session to fail the batch")
	}
	if _, err := store.GetSchedule(ctx, "sched-2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("schedule from failed batch persisted: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-3"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("session from failed batch persisted: %v", err)
	}

	empty := schedule("sched-3", "course-1")
	if err := store.CreateSchedule(ctx, empty, nil); err != nil {
		t.Fatalf("empty batch should succeed: %v", err)
	}
	schedules, err := store.ListSchedules(ctx, "course-1")
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}
}

func testSessionQueries(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	if err := store.UpsertCourse(ctx, Course("course-1")); err != nil {
		t.Fatalf("UpsertCourse failed: %v", err)
	}
	late := Session("s-late", "course-1", "sched-1", "2025-01-06", "13:00", "14:00", 5)
	early := Session("s-early", "course-1", "sched-1", "2025-01-06", "09:00", "10:00", 5)
	next := Session("s-next", "course-1", "sched-1", "2025-01-07", "08:00", "09:00", 5)
	next.LocationID = "loc-2"
	next.InstructorID = "ins-2"
	if err := store.CreateSchedule(ctx, schedule("sched-1", "course-1"), []persistence.Session{late, next, early}); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}

	all, err := store.ListSessions(ctx, persistence.SessionFilter{CourseID: "course-1"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if ids := sessionIDs(all); fmt.Sprint(ids) != "[s-early s-late s-next]" {
		t.Fatalf("unexpected order %v", ids)
	}

	byLocation, err := store.ListSessions(ctx, persistence.SessionFilter{LocationID: "loc-2"})
	if err != nil || len(byLocation) != 1 || byLocation[0].ID != "s-next" {
		t.Fatalf("location filter = %v, %v", sessionIDs(byLocation), err)
	}
	byInstructor, err := store.ListSessions(ctx, persistence.SessionFilter{InstructorID: "ins-1", DateFrom: "2025-01-06", DateTo: "2025-01-06"})
	if err != nil || len(byInstructor) != 2 {
		t.Fatalf("instructor/date filter = %v, %v", sessionIDs(byInstructor), err)
	}
	none, err := store.ListSessions(ctx, persistence.SessionFilter{CourseID: "course-1", Statuses: []string{persistence.SessionCancelled}})
	if err != nil || len(none) != 0 {
		t.Fatalf("status filter = %v, %v", sessionIDs(none), err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSessionStatus(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 5, "s-1")

	updated, err := store.UpdateSessionStatus(ctx, "s-1", persistence.SessionCancelled, 1, reference.Add(time.Hour))
	if err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if updated.Status != persistence.SessionCancelled || updated.Version != 2 {
		t.Fatalf("unexpected session %#v", updated)
	}
	if _, err := store.UpdateSessionStatus(ctx, "s-1", persistence.SessionCompleted, 1, reference); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if _, err := store.UpdateSessionStatus(ctx, "missing", persistence.SessionCompleted, 1, reference); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testReserve(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 1, "s-1", "s-2")

	booking := Booking("b-1", "course-1", "s-1", "s-2")
	claims := []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}, {SessionID: "s-2", ExpectedVersion: 1}}
	if err := store.ReserveBooking(ctx, booking, claims); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}
	for _, id := range []string{"s-1", "s-2"} {
		session, err := store.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if session.CurrentEnrollment != 1 || session.Version != 2 {
			t.Fatalf("unexpected counters on %s: %#v", id, session)
		}
	}
	stored, err := store.GetBooking(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if fmt.Sprint(stored.SessionIDs) != "[s-1 s-2]" || stored.Version != 1 || stored.CheckoutSessionID != nil || stored.AmountPaid != nil {
		t.Fatalf("unexpected booking %#v", stored)
	}

	full := Booking("b-2", "course-1", "s-1")
	err = store.ReserveBooking(ctx, full, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 2}})
	assertClaim(t, err, "s-1", persistence.ErrCapacityExceeded)

	stale := Booking("b-3", "course-1", "s-1")
	err = store.ReserveBooking(ctx, stale, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}})
	assertClaim(t, err, "s-1", persistence.ErrVersionConflict)

	seedExtra(t, store, "s-9", 3)
	if _, err := store.UpdateSessionStatus(ctx, "s-9", persistence.SessionCancelled, 1, reference); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	cancelled := Booking("b-4", "course-1", "s-9")
	err = store.ReserveBooking(ctx, cancelled, []persistence.SessionClaim{{SessionID: "s-9", ExpectedVersion: 2}})
	assertClaim(t, err, "s-9", persistence.ErrNotScheduled)

	// A partially valid claim set leaves no trace.
	seedExtra(t, store, "s-10", 3)
	partial := Booking("b-5", "course-1", "s-10", "s-1")
	err = store.ReserveBooking(ctx, partial, []persistence.SessionClaim{{SessionID: "s-10", ExpectedVersion: 1}, {SessionID: "s-1", ExpectedVersion: 2}})
	assertClaim(t, err, "s-1", persistence.ErrCapacityExceeded)
	if session, _ := store.GetSession(ctx, "s-10"); session.CurrentEnrollment != 0 || session.Version != 1 {
		t.Fatalf("failed reservation changed s-10: %#v", session)
	}
	if _, err := store.GetBooking(ctx, "b-5"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("failed reservation persisted booking: %v", err)
	}

	err = store.ReserveBooking(ctx, Booking("b-6", "course-1", "nope"), []persistence.SessionClaim{{SessionID: "nope", ExpectedVersion: 1}})
	assertClaim(t, err, "nope", persistence.ErrNotFound)
}

func seedExtra(t *testing.T, store persistence.Store, id string, capacity int) {
	t.Helper()
	sched := schedule("sched-"+id, "course-1")
	if err := store.CreateSchedule(context.Background(), sched, []persistence.Session{
		Session(id, "course-1", sched.ID, "2025-03-01", "09:00", "10:00", capacity),
	}); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
}

func assertClaim(t *testing.T, err error, sessionID string, want error) {
	t.Helper()
	var claimErr *persistence.ClaimError
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected ClaimError wrapping %v, got %v", want, err)
	}
	if claimErr.SessionID != sessionID || !errors.Is(err, want) {
		t.Fatalf("ClaimError = %v, want session %s wrapping %v", err, sessionID, want)
	}
}

func testReserveConcurrent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	const capacity = 3
	const attempts = 12
	seed(t, store, capacity, "s-1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				session, err := store.GetSession(ctx, "s-1")
				if err != nil {
					t.Errorf("GetSession failed: %v", err)
					return
				}
				booking := Booking(fmt.Sprintf("b-%02d", i), "course-1", "s-1")
				err = store.ReserveBooking(ctx, booking, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: session.Version}})
				switch {
				case err == nil:
					mu.Lock()
					successes++
					mu.Unlock()
					return
				case errors.Is(err, persistence.ErrVersionConflict), errors.Is(err, persistence.ErrTransient):
					continue
				case errors.Is(err, persistence.ErrCapacityExceeded):
					return
				default:
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	session, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if successes != capacity || session.CurrentEnrollment != capacity {
		t.Fatalf("successes=%d enrollment=%d, want %d", successes, session.CurrentEnrollment, capacity)
	}
}

func testBookingUpdates(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 2, "s-1", "s-2")

	booking := Booking("b-1", "course-1", "s-1", "s-2")
	claims := []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}, {SessionID: "s-2", ExpectedVersion: 1}}
	if err := store.ReserveBooking(ctx, booking, claims); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}

	checkout := "chk-1"
	booking.State = "awaiting_payment"
	booking.CheckoutSessionID = &checkout
	booking.CheckoutURL = "https://pay.example.com/chk-1"
	if err := store.UpdateBooking(ctx, booking, 1); err != nil {
		t.Fatalf("UpdateBooking failed: %v", err)
	}
	if err := store.UpdateBooking(ctx, booking, 1); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	byCheckout, err := store.GetBookingByCheckoutSession(ctx, "chk-1")
	if err != nil {
		t.Fatalf("GetBookingByCheckoutSession failed: %v", err)
	}
	if byCheckout.ID != "b-1" || byCheckout.Version != 2 || byCheckout.State != "awaiting_payment" {
		t.Fatalf("unexpected booking %#v", byCheckout)
	}
	if _, err := store.GetBookingByCheckoutSession(ctx, "chk-x"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Another booking may not reuse the checkout session.
	other := Booking("b-2", "course-1", "s-1")
	if err := store.ReserveBooking(ctx, other, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 2}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}
	other.CheckoutSessionID = &checkout
	if err := store.UpdateBooking(ctx, other, 1); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	closed := reference.Add(time.Hour)
	byCheckout.State = "expired"
	byCheckout.Status = "cancelled"
	byCheckout.ClosedAt = &closed
	byCheckout.UpdatedAt = closed
	if err := store.ReleaseBooking(ctx, byCheckout, 1); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on stale release, got %v", err)
	}
	if err := store.ReleaseBooking(ctx, byCheckout, 2); err != nil {
		t.Fatalf("ReleaseBooking failed: %v", err)
	}

	s1, _ := store.GetSession(ctx, "s-1")
	s2, _ := store.GetSession(ctx, "s-2")
	if s1.CurrentEnrollment != 1 || s2.CurrentEnrollment != 0 {
		t.Fatalf("unexpected enrollment after release: s-1=%d s-2=%d", s1.CurrentEnrollment, s2.CurrentEnrollment)
	}
	released, _ := store.GetBooking(ctx, "b-1")
	if released.State != "expired" || released.Version != 3 || released.ClosedAt == nil {
		t.Fatalf("unexpected released booking %#v", released)
	}
}

func testBookingQueries(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 5, "s-1", "s-2")

	first := Booking("b-1", "course-1", "s-1")
	second := Booking("b-2", "course-1", "s-2")
	second.StudentID = "student-2"
	second.BookingDate = reference.Add(-time.Hour)
	second.HoldExpiresAt = reference.Add(2 * time.Hour)
	if err := store.ReserveBooking(ctx, first, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}
	if err := store.ReserveBooking(ctx, second, []persistence.SessionClaim{{SessionID: "s-2", ExpectedVersion: 1}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}

	byCourse, err := store.ListBookings(ctx, persistence.BookingFilter{CourseID: "course-1"})
	if err != nil || fmt.Sprint(bookingIDs(byCourse)) != "[b-2 b-1]" {
		t.Fatalf("course filter = %v, %v", bookingIDs(byCourse), err)
	}
	byStudent, err := store.ListBookings(ctx, persistence.BookingFilter{StudentID: "student-2"})
	if err != nil || fmt.Sprint(bookingIDs(byStudent)) != "[b-2]" {
		t.Fatalf("student filter = %v, %v", bookingIDs(byStudent), err)
	}
	bySession, err := store.ListBookings(ctx, persistence.BookingFilter{SessionID: "s-1"})
	if err != nil || fmt.Sprint(bookingIDs(bySession)) != "[b-1]" {
		t.Fatalf("session filter = %v, %v", bookingIDs(bySession), err)
	}
	cutoff := reference.Add(time.Hour)
	held, err := store.ListBookings(ctx, persistence.BookingFilter{States: []string{"created", "awaiting_payment"}, HoldExpiresBefore: &cutoff})
	if err != nil || fmt.Sprint(bookingIDs(held)) != "[b-1]" {
		t.Fatalf("hold filter = %v, %v", bookingIDs(held), err)
	}
}

func testSubSecondTimes(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 5, "s-1")

	whole := Booking("b-1", "course-1", "s-1")
	whole.HoldExpiresAt = reference.Add(15 * time.Minute)
	fractional := Booking("b-2", "course-1", "s-1")
	fractional.BookingDate = reference.Add(500 * time.Millisecond)
	fractional.HoldExpiresAt = reference.Add(15*time.Minute + 900*time.Millisecond)
	if err := store.ReserveBooking(ctx, whole, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}
	if err := store.ReserveBooking(ctx, fractional, []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 2}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}

	ordered, err := store.ListBookings(ctx, persistence.BookingFilter{CourseID: "course-1"})
	if err != nil || fmt.Sprint(bookingIDs(ordered)) != "[b-1 b-2]" {
		t.Fatalf("booking date order = %v, %v", bookingIDs(ordered), err)
	}

	cutoff := reference.Add(15*time.Minute + 500*time.Millisecond)
	held, err := store.ListBookings(ctx, persistence.BookingFilter{HoldExpiresBefore: &cutoff})
	if err != nil || fmt.Sprint(bookingIDs(held)) != "[b-1]" {
		t.Fatalf("hold filter at %v = %v, %v", cutoff, bookingIDs(held), err)
	}
}

func testPayments(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 5, "s-1")
	if err := store.ReserveBooking(ctx, Booking("b-1", "course-1", "s-1"), []persistence.SessionClaim{{SessionID: "s-1", ExpectedVersion: 1}}); err != nil {
		t.Fatalf("ReserveBooking failed: %v", err)
	}

	payment := persistence.Payment{
		ID:                "pay-1",
		BookingID:         "b-1",
		CheckoutSessionID: "chk-1",
		Provider:          "fake",
		Amount:            12000,
		Currency:          "JPY",
		Status:            "initiated",
		CreatedAt:         reference,
		UpdatedAt:         reference,
	}
	if err := store.UpsertPayment(ctx, payment); err != nil {
		t.Fatalf("UpsertPayment failed: %v", err)
	}
	paidAt := reference.Add(time.Minute)
	payment.Status = "paid"
	payment.PaidAt = &paidAt
	payment.UpdatedAt = paidAt
	if err := store.UpsertPayment(ctx, payment); err != nil {
		t.Fatalf("UpsertPayment (update) failed: %v", err)
	}

	got, err := store.GetPaymentByCheckoutSession(ctx, "chk-1")
	if err != nil {
		t.Fatalf("GetPaymentByCheckoutSession failed: %v", err)
	}
	if got.Status != "paid" || got.PaidAt == nil || !got.PaidAt.Equal(paidAt) || got.Amount != 12000 {
		t.Fatalf("unexpected payment %#v", got)
	}
	if _, err := store.GetPaymentByCheckoutSession(ctx, "chk-x"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	dup := payment
	dup.ID = "pay-2"
	if err := store.UpsertPayment(ctx, dup); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	list, err := store.ListPayments(ctx, "b-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPayments = %v, %v", list, err)
	}
}

func waitlistEntry(id string, position int) persistence.WaitlistEntry {
	return persistence.WaitlistEntry{
		ID:           id,
		CourseID:     "course-1",
		StudentID:    "student-" + id,
		StudentName:  "Student " + id,
		StudentEmail: id + "@example.com",
		Position:     position,
		Status:       persistence.WaitlistWaiting,
		Version:      1,
		CreatedAt:    reference,
		UpdatedAt:    reference,
	}
}

func testWaitlist(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := open(t, newStore)
	seed(t, store, 1, "s-1")

	second := waitlistEntry("w-2", 2)
	second.SessionID = "s-1"
	for _, entry := range []persistence.WaitlistEntry{second, waitlistEntry("w-1", 1)} {
		if err := store.AddWaitlistEntry(ctx, entry); err != nil {
			t.Fatalf("AddWaitlistEntry(%s) failed: %v", entry.ID, err)
		}
	}
	if err := store.AddWaitlistEntry(ctx, waitlistEntry("w-1", 3)); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused id, got %v", err)
	}
	if err := store.AddWaitlistEntry(ctx, waitlistEntry("w-3", 2)); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for taken position, got %v", err)
	}

	list, err := store.ListWaitlist(ctx, persistence.WaitlistFilter{CourseID: "course-1"})
	if err != nil {
		t.Fatalf("ListWaitlist failed: %v", err)
	}
	if got := fmt.Sprint(waitlistIDs(list)); got != "[w-1 w-2]" {
		t.Fatalf("waitlist order = %s, want [w-1 w-2]", got)
	}
	if list[1].SessionID != "s-1" || list[1].OfferExpiresAt != nil {
		t.Fatalf("unexpected entry %#v", list[1])
	}

	offered := list[0]
	expires := reference.Add(24 * time.Hour)
	offered.Status = persistence.WaitlistOffered
	offered.OfferExpiresAt = &expires
	offered.UpdatedAt = reference.Add(time.Minute)
	if err := store.UpdateWaitlistEntry(ctx, offered, 1); err != nil {
		t.Fatalf("UpdateWaitlistEntry failed: %v", err)
	}
	if err := store.UpdateWaitlistEntry(ctx, offered, 1); !errors.Is(err, persistence.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, err := store.GetWaitlistEntry(ctx, "w-1")
	if err != nil {
		t.Fatalf("GetWaitlistEntry failed: %v", err)
	}
	if got.Version != 2 || got.Status != persistence.WaitlistOffered || got.OfferExpiresAt == nil || !got.OfferExpiresAt.Equal(expires) {
		t.Fatalf("unexpected entry after update %#v", got)
	}

	due := expires.Add(time.Second)
	for _, tc := range []struct {
		name   string
		filter persistence.WaitlistFilter
		want   string
	}{
		{"by student", persistence.WaitlistFilter{StudentID: "student-w-2"}, "[w-2]"},
		{"by status", persistence.WaitlistFilter{Statuses: []string{persistence.WaitlistWaiting}}, "[w-2]"},
		{"offers due", persistence.WaitlistFilter{Statuses: []string{persistence.WaitlistOffered}, OfferExpiresBefore: &due}, "[w-1]"},
		{"offers not yet due", persistence.WaitlistFilter{OfferExpiresBefore: &reference}, "[]"},
	} {
		list, err := store.ListWaitlist(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: ListWaitlist failed: %v", tc.name, err)
		}
		if got := fmt.Sprint(waitlistIDs(list)); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}

	if err := store.DeleteWaitlistEntry(ctx, "w-2"); err != nil {
		t.Fatalf("DeleteWaitlistEntry failed: %v", err)
	}
	if err := store.DeleteWaitlistEntry(ctx, "w-2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := store.GetWaitlistEntry(ctx, "w-2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateWaitlistEntry(ctx, second, 1); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating a deleted entry, got %v", err)
	}
}

func waitlistIDs(entries []persistence.WaitlistEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func sessionIDs(sessions []persistence.Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func bookingIDs(bookings []persistence.Booking) []string {
	out := make([]string, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.ID)
	}
	return out
}
