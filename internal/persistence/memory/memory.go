// Package memory provides a map-backed persistence.Store for tests and
// single-process deployments.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/training-booking/internal/persistence"
)

// Storage keeps every record in process memory guarded by one RWMutex.
type Storage struct {
	mu        sync.RWMutex
	courses   map[string]persistence.Course
	schedules map[string]persistence.Schedule
	sessions  map[string]persistence.Session
	bookings  map[string]persistence.Booking
	payments  map[string]persistence.Payment
	waitlist  map[string]persistence.WaitlistEntry
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		courses:   make(map[string]persistence.Course),
		schedules: make(map[string]persistence.Schedule),
		sessions:  make(map[string]persistence.Session),
		bookings:  make(map[string]persistence.Booking),
		payments:  make(map[string]persistence.Payment),
		waitlist:  make(map[string]persistence.WaitlistEntry),
	}
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// Migrate is a no-op.
func (s *Storage) Migrate(context.Context) error {
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- CourseRepository ---

// UpsertCourse inserts or replaces a course.
func (s *Storage) UpsertCourse(ctx context.Context, course persistence.Course) error {
	if course.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.courses[course.ID]; ok && course.CreatedAt.IsZero() {
		course.CreatedAt = existing.CreatedAt
	}
	s.courses[course.ID] = course
	return nil
}

// GetCourse retrieves a course by ID.
func (s *Storage) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	course, ok := s.courses[id]
	if !ok {
		return persistence.Course{}, persistence.ErrNotFound
	}
	return course, nil
}

// ListCourses returns all courses ordered by ID.
func (s *Storage) ListCourses(ctx context.Context) ([]persistence.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	courses := make([]persistence.Course, 0, len(s.courses))
	for _, course := range s.courses {
		courses = append(courses, course)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses, nil
}

// --- ScheduleRepository ---

// CreateSchedule stores the schedule and its sessions, or nothing at all.
func (s *Storage) CreateSchedule(ctx context.Context, schedule persistence.Schedule, sessions []persistence.Session) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.courses[schedule.CourseID]; !ok {
		return persistence.ErrConstraintViolation
	}
	seen := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		if session.ID == "" || session.CurrentEnrollment < 0 || session.CurrentEnrollment > session.MaxCapacity {
			return persistence.ErrConstraintViolation
		}
		if _, ok := s.sessions[session.ID]; ok {
			return persistence.ErrDuplicate
		}
		if _, ok := seen[session.ID]; ok {
			return persistence.ErrDuplicate
		}
		seen[session.ID] = struct{}{}
	}

	s.schedules[schedule.ID] = persistence.CloneSchedule(schedule)
	for _, session := range sessions {
		s.sessions[session.ID] = session
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Storage) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	return persistence.CloneSchedule(schedule), nil
}

// ListSchedules returns a course's schedules ordered by creation time.
func (s *Storage) ListSchedules(ctx context.Context, courseID string) ([]persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]persistence.Schedule, 0)
	for _, schedule := range s.schedules {
		if schedule.CourseID == courseID {
			schedules = append(schedules, persistence.CloneSchedule(schedule))
		}
	}
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

// --- SessionRepository ---

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

// ListSessions returns sessions matching filter ordered by date, start time and ID.
func (s *Storage) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]persistence.Session, 0)
	for _, session := range s.sessions {
		if matchSession(session, filter) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return sessions, nil
}

// UpdateSessionStatus applies a version-checked status change.
func (s *Storage) UpdateSessionStatus(ctx context.Context, id, status string, expectedVersion int64, updatedAt time.Time) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	if session.Version != expectedVersion {
		return persistence.Session{}, persistence.ErrVersionConflict
	}
	session.Status = status
	session.Version++
	session.UpdatedAt = updatedAt
	s.sessions[id] = session
	return session, nil
}

func matchSession(session persistence.Session, filter persistence.SessionFilter) bool {
	if filter.CourseID != "" && session.CourseID != filter.CourseID {
		return false
	}
	if filter.ScheduleID != "" && session.ScheduleID != filter.ScheduleID {
		return false
	}
	if filter.LocationID != "" && session.LocationID != filter.LocationID {
		return false
	}
	if filter.InstructorID != "" && session.InstructorID != filter.InstructorID {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, session.Status) {
		return false
	}
	if filter.DateFrom != "" && session.Date < filter.DateFrom {
		return false
	}
	if filter.DateTo != "" && session.Date > filter.DateTo {
		return false
	}
	return true
}

// --- BookingRepository ---

// ReserveBooking claims a seat on every session and inserts the booking atomically.
func (s *Storage) ReserveBooking(ctx context.Context, booking persistence.Booking, claims []persistence.SessionClaim) error {
	if booking.ID == "" || len(claims) == 0 {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return persistence.ErrDuplicate
	}

	updated := make([]persistence.Session, 0, len(claims))
	for _, claim := range claims {
		session, ok := s.sessions[claim.SessionID]
		if !ok {
			return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotFound}
		}
		if session.Version != claim.ExpectedVersion {
			return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrVersionConflict}
		}
		if session.Status != persistence.SessionScheduled {
			return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotScheduled}
		}
		if session.CurrentEnrollment >= session.MaxCapacity {
			return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrCapacityExceeded}
		}
		session.CurrentEnrollment++
		session.Version++
		session.UpdatedAt = booking.BookingDate
		updated = append(updated, session)
	}

	for _, session := range updated {
		s.sessions[session.ID] = session
	}
	s.bookings[booking.ID] = persistence.CloneBooking(booking)
	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return persistence.CloneBooking(booking), nil
}

// GetBookingByCheckoutSession finds the booking a checkout session is attached to.
func (s *Storage) GetBookingByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, booking := range s.bookings {
		if booking.CheckoutSessionID != nil && *booking.CheckoutSessionID == checkoutSessionID {
			return persistence.CloneBooking(booking), nil
		}
	}
	return persistence.Booking{}, persistence.ErrNotFound
}

// ListBookings returns bookings matching filter ordered by booking date and ID.
func (s *Storage) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := make([]persistence.Booking, 0)
	for _, booking := range s.bookings {
		if matchBooking(booking, filter) {
			bookings = append(bookings, persistence.CloneBooking(booking))
		}
	}
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].BookingDate.Equal(bookings[j].BookingDate) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].BookingDate.Before(bookings[j].BookingDate)
	})
	return bookings, nil
}

// UpdateBooking replaces a booking after a version check.
func (s *Storage) UpdateBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateBookingLocked(booking, expectedVersion)
}

// ReleaseBooking replaces a booking after a version check and returns its seats.
func (s *Storage) ReleaseBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateBookingLocked(booking, expectedVersion); err != nil {
		return err
	}
	for _, id := range booking.SessionIDs {
		session, ok := s.sessions[id]
		if !ok {
			continue
		}
		if session.CurrentEnrollment > 0 {
			session.CurrentEnrollment--
		}
		session.Version++
		session.UpdatedAt = booking.UpdatedAt
		s.sessions[id] = session
	}
	return nil
}

func (s *Storage) updateBookingLocked(booking persistence.Booking, expectedVersion int64) error {
	current, ok := s.bookings[booking.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Version != expectedVersion {
		return persistence.ErrVersionConflict
	}
	if booking.CheckoutSessionID != nil {
		for id, other := range s.bookings {
			if id != booking.ID && other.CheckoutSessionID != nil && *other.CheckoutSessionID == *booking.CheckoutSessionID {
				return persistence.ErrDuplicate
			}
		}
	}
	booking.Version = expectedVersion + 1
	s.bookings[booking.ID] = persistence.CloneBooking(booking)
	return nil
}

func matchBooking(booking persistence.Booking, filter persistence.BookingFilter) bool {
	if filter.CourseID != "" && booking.CourseID != filter.CourseID {
		return false
	}
	if filter.StudentID != "" && booking.StudentID != filter.StudentID {
		return false
	}
	if filter.SessionID != "" && !slices.Contains(booking.SessionIDs, filter.SessionID) {
		return false
	}
	if len(filter.States) > 0 && !slices.Contains(filter.States, booking.State) {
		return false
	}
	if filter.HoldExpiresBefore != nil && booking.HoldExpiresAt.After(*filter.HoldExpiresBefore) {
		return false
	}
	return true
}

// --- PaymentRepository ---

// UpsertPayment inserts or replaces the ledger entry for a checkout session.
func (s *Storage) UpsertPayment(ctx context.Context, payment persistence.Payment) error {
	if payment.ID == "" || payment.CheckoutSessionID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.payments {
		if existing.CheckoutSessionID == payment.CheckoutSessionID && id != payment.ID {
			return persistence.ErrDuplicate
		}
	}
	if existing, ok := s.payments[payment.ID]; ok && payment.CreatedAt.IsZero() {
		payment.CreatedAt = existing.CreatedAt
	}
	s.payments[payment.ID] = persistence.ClonePayment(payment)
	return nil
}

// GetPaymentByCheckoutSession retrieves the ledger entry for a checkout session.
func (s *Storage) GetPaymentByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, payment := range s.payments {
		if payment.CheckoutSessionID == checkoutSessionID {
			return persistence.ClonePayment(payment), nil
		}
	}
	return persistence.Payment{}, persistence.ErrNotFound
}

// ListPayments returns a booking's ledger entries ordered by creation time.
func (s *Storage) ListPayments(ctx context.Context, bookingID string) ([]persistence.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]persistence.Payment, 0)
	for _, payment := range s.payments {
		if payment.BookingID == bookingID {
			payments = append(payments, persistence.ClonePayment(payment))
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].ID < payments[j].ID
		}
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
	return payments, nil
}

// --- WaitlistRepository ---

// AddWaitlistEntry inserts a new entry.
func (s *Storage) AddWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	if entry.ID == "" || entry.CourseID == "" || entry.Position < 1 {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waitlist[entry.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, other := range s.waitlist {
		if other.CourseID == entry.CourseID && other.Position == entry.Position {
			return persistence.ErrDuplicate
		}
	}
	s.waitlist[entry.ID] = persistence.CloneWaitlistEntry(entry)
	return nil
}

// GetWaitlistEntry retrieves an entry by ID.
func (s *Storage) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.waitlist[id]
	if !ok {
		return persistence.WaitlistEntry{}, persistence.ErrNotFound
	}
	return persistence.CloneWaitlistEntry(entry), nil
}

// ListWaitlist returns entries matching filter ordered by course and position.
func (s *Storage) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]persistence.WaitlistEntry, 0)
	for _, entry := range s.waitlist {
		if matchWaitlist(entry, filter) {
			entries = append(entries, persistence.CloneWaitlistEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CourseID != entries[j].CourseID {
			return entries[i].CourseID < entries[j].CourseID
		}
		return entries[i].Position < entries[j].Position
	})
	return entries, nil
}

// UpdateWaitlistEntry replaces an entry after a version check.
func (s *Storage) UpdateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.waitlist[entry.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Version != expectedVersion {
		return persistence.ErrVersionConflict
	}
	if current.CourseID != entry.CourseID || current.Position != entry.Position {
		return persistence.ErrConstraintViolation
	}
	entry.Version = expectedVersion + 1
	s.waitlist[entry.ID] = persistence.CloneWaitlistEntry(entry)
	return nil
}

// DeleteWaitlistEntry removes an entry.
func (s *Storage) DeleteWaitlistEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waitlist[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.waitlist, id)
	return nil
}

func matchWaitlist(entry persistence.WaitlistEntry, filter persistence.WaitlistFilter) bool {
	if filter.CourseID != "" && entry.CourseID != filter.CourseID {
		return false
	}
	if filter.StudentID != "" && entry.StudentID != filter.StudentID {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, entry.Status) {
		return false
	}
	if filter.OfferExpiresBefore != nil && (entry.OfferExpiresAt == nil || entry.OfferExpiresAt.After(*filter.OfferExpiresBefore)) {
		return false
	}
	return true
}
