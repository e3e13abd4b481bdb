package persistence

import (
	"context"
	"time"
)

// CourseRepository stores the catalog mirror.
type CourseRepository interface {
	UpsertCourse(ctx context.Context, course Course) error
	GetCourse(ctx context.Context, id string) (Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
}

// ScheduleRepository stores schedules together with their generated sessions.
type ScheduleRepository interface {
	// CreateSchedule inserts the schedule and every session in one atomic unit.
	CreateSchedule(ctx context.Context, schedule Schedule, sessions []Session) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, courseID string) ([]Schedule, error)
}

// SessionFilter narrows session queries. Empty fields are ignored; dates are
// inclusive "2006-01-02" bounds.
type SessionFilter struct {
	CourseID     string
	ScheduleID   string
	LocationID   string
	InstructorID string
	Statuses     []string
	DateFrom     string
	DateTo       string
}

// SessionRepository reads sessions and applies status transitions.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (Session, error)
	// ListSessions orders results by date, start time and id.
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	// UpdateSessionStatus writes status only when the stored version matches
	// expectedVersion and returns the updated session.
	UpdateSessionStatus(ctx context.Context, id, status string, expectedVersion int64, updatedAt time.Time) (Session, error)
}

// SessionClaim is one seat requested by ReserveBooking, guarded by the
// session version the caller observed.
type SessionClaim struct {
	SessionID       string
	ExpectedVersion int64
}

// BookingFilter narrows booking queries. Empty fields are ignored.
type BookingFilter struct {
	CourseID          string
	StudentID         string
	SessionID         string
	States            []string
	HoldExpiresBefore *time.Time
}

// BookingRepository owns bookings and the enrollment counters they move.
type BookingRepository interface {
	// ReserveBooking checks every claim (version, scheduled status, free seat),
	// increments enrollment and inserts the booking atomically. Failures are
	// reported as *ClaimError wrapping ErrVersionConflict, ErrNotScheduled,
	// ErrCapacityExceeded or ErrNotFound.
	ReserveBooking(ctx context.Context, booking Booking, claims []SessionClaim) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	GetBookingByCheckoutSession(ctx context.Context, checkoutSessionID string) (Booking, error)
	// ListBookings orders results by booking date and id.
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	// UpdateBooking replaces the booking when the stored version equals
	// expectedVersion; the stored version becomes expectedVersion+1.
	UpdateBooking(ctx context.Context, booking Booking, expectedVersion int64) error
	// ReleaseBooking behaves like UpdateBooking and additionally returns one
	// seat on every referenced session, never dropping below zero.
	ReleaseBooking(ctx context.Context, booking Booking, expectedVersion int64) error
}

// PaymentRepository stores the payment ledger.
type PaymentRepository interface {
	UpsertPayment(ctx context.Context, payment Payment) error
	GetPaymentByCheckoutSession(ctx context.Context, checkoutSessionID string) (Payment, error)
	ListPayments(ctx context.Context, bookingID string) ([]Payment, error)
}

// WaitlistFilter narrows waitlist queries. Empty fields are ignored.
type WaitlistFilter struct {
	CourseID           string
	StudentID          string
	Statuses           []string
	OfferExpiresBefore *time.Time
}

// WaitlistRepository stores waitlist entries.
type WaitlistRepository interface {
	// AddWaitlistEntry inserts a new entry. A reused id or a position already
	// taken on the same course yields ErrDuplicate.
	AddWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (WaitlistEntry, error)
	// ListWaitlist orders results by course and position.
	ListWaitlist(ctx context.Context, filter WaitlistFilter) ([]WaitlistEntry, error)
	// UpdateWaitlistEntry replaces the entry when the stored version equals
	// expectedVersion; the stored version becomes expectedVersion+1.
	UpdateWaitlistEntry(ctx context.Context, entry WaitlistEntry, expectedVersion int64) error
	DeleteWaitlistEntry(ctx context.Context, id string) error
}

// Store aggregates every repository behind one backend.
type Store interface {
	CourseRepository
	ScheduleRepository
	SessionRepository
	BookingRepository
	PaymentRepository
	WaitlistRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
