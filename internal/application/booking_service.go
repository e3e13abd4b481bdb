package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/training-booking/internal/persistence"
)

// BookingService admits bookings against session capacity.
type BookingService struct {
	*core
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// Reserve claims one seat on every requested session and records a booking
// holding them until the hold window ends. Either every seat is claimed and
// the booking exists, or nothing changed.
func (s *BookingService) Reserve(ctx context.Context, params ReserveParams) (booking Booking, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Reserve",
		"course_id", params.CourseID,
		"student_id", params.Student.ID,
		"sessions", len(params.SessionIDs),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reserve", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "booking reserved")
	}()

	sessionIDs := uniqueStrings(params.SessionIDs)
	if vErr := validateReserveParams(params, sessionIDs); vErr.HasErrors() {
		err = vErr
		return
	}

	course, err := s.catalog.GetCourse(ctx, params.CourseID)
	if err != nil {
		return
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, sessionLockKey(id))
	}
	unlock, err := s.locks.Lock(ctx, keys...)
	if err != nil {
		return
	}
	defer unlock()

	var lastErr error
	for attempt := 1; ; attempt++ {
		booking, lastErr = s.tryReserve(ctx, course, sessionIDs, params)
		if lastErr == nil || !retryable(lastErr) {
			break
		}
		logger.WarnContext(ctx, "reservation lost a version check", "attempt", attempt, "error", lastErr)
		if attempt >= s.cfg.MaxReserveAttempts {
			lastErr = s.exhausted(ctx, sessionIDs, lastErr)
			break
		}
		if err = sleepContext(ctx, s.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return
		}
	}
	if lastErr != nil {
		err = lastErr
		booking = Booking{}
		return
	}

	s.publish(ctx, EventBookingReserved, bookingEventFor(booking))
	s.acceptWaitlist(ctx, booking.CourseID, booking.StudentID)
	return booking, nil
}

// tryReserve makes one admission attempt against the sessions as currently stored.
func (s *BookingService) tryReserve(ctx context.Context, course Course, sessionIDs []string, params ReserveParams) (Booking, error) {
	claims := make([]persistence.SessionClaim, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		rec, err := s.store.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return Booking{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
			}
			return Booking{}, mapStoreError("get session", err)
		}
		if rec.CourseID != course.ID {
			vErr := &ValidationError{}
			vErr.add("session_ids", fmt.Sprintf("session %s does not belong to course %s", id, course.ID))
			return Booking{}, vErr
		}
		if SessionStatus(rec.Status) != SessionScheduled {
			return Booking{}, &SessionNotScheduledError{SessionID: id, Status: SessionStatus(rec.Status)}
		}
		if rec.CurrentEnrollment >= rec.MaxCapacity {
			return Booking{}, &SessionFullError{SessionID: id}
		}
		claims = append(claims, persistence.SessionClaim{SessionID: id, ExpectedVersion: rec.Version})
	}

	now := s.now()
	booking := Booking{
		ID:              s.idGenerator(),
		CourseID:        course.ID,
		StudentID:       strings.TrimSpace(params.Student.ID),
		SessionIDs:      append([]string(nil), sessionIDs...),
		StudentName:     strings.TrimSpace(params.Student.Name),
		StudentEmail:    strings.TrimSpace(params.Student.Email),
		StudentPhone:    strings.TrimSpace(params.Student.Phone),
		Message:         params.Message,
		AmountDue:       course.Price,
		PricePerSession: course.Price / int64(len(sessionIDs)),
		Currency:        course.Currency,
		HoldExpiresAt:   now.Add(s.cfg.HoldWindow),
		BookingDate:     now,
		Version:         1,
	}
	if booking.Currency == "" {
		booking.Currency = s.cfg.Currency
	}
	booking = booking.withState(StateCreated, now)

	if err := s.store.ReserveBooking(ctx, booking.record(), claims); err != nil {
		return Booking{}, mapStoreError("reserve booking", err)
	}
	return booking, nil
}

// exhausted decides what a caller sees once every retry lost its version check.
func (s *BookingService) exhausted(ctx context.Context, sessionIDs []string, lastErr error) error {
	for _, id := range sessionIDs {
		rec, err := s.store.GetSession(ctx, id)
		if err != nil {
			continue
		}
		if rec.CurrentEnrollment >= rec.MaxCapacity {
			return &SessionFullError{SessionID: id}
		}
	}
	return &TransientStoreError{Op: "reserve", Err: fmt.Errorf("retries exhausted: %v", lastErr)}
}

// GetBooking returns a booking by id.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	if s == nil || s.core == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	rec, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, mapStoreError("get booking", err)
	}
	return bookingFromRecord(rec), nil
}

// ListBookings returns the bookings of a course or of a student ordered by
// booking date.
func (s *BookingService) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	if s == nil || s.core == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if strings.TrimSpace(filter.CourseID) == "" && strings.TrimSpace(filter.StudentID) == "" {
		vErr := &ValidationError{}
		vErr.add("filter", "course_id or student_id is required")
		return nil, vErr
	}
	recs, err := s.store.ListBookings(ctx, persistence.BookingFilter{
		CourseID:  strings.TrimSpace(filter.CourseID),
		StudentID: strings.TrimSpace(filter.StudentID),
	})
	if err != nil {
		return nil, mapStoreError("list bookings", err)
	}
	bookings := make([]Booking, 0, len(recs))
	for _, rec := range recs {
		bookings = append(bookings, bookingFromRecord(rec))
	}
	return bookings, nil
}

// CancelBooking withdraws an unpaid booking and returns its seats. Paid and
// otherwise closed bookings cannot be withdrawn; withdrawing twice is a no-op.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) (booking Booking, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CancelBooking", "booking_id", bookingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking withdrawn", "state", booking.State)
	}()

	var changed bool
	booking, changed, err = s.transition(ctx, bookingID, func(current Booking, now time.Time) (Booking, writeKind, error) {
		switch current.State {
		case StateCreated, StateAwaitingPayment:
			return current.withState(StateWithdrawn, now), writeRelease, nil
		case StateWithdrawn:
			return current, writeNone, nil
		}
		return current, writeNone, &InvalidTransitionError{BookingID: current.ID, From: current.State, Event: "withdraw"}
	}, s.settleLedger(TransactionExpired))
	if err != nil {
		return
	}
	if changed {
		s.publish(ctx, bookingEventType(booking.State), bookingEventFor(booking))
	}
	return booking, nil
}

func validateReserveParams(params ReserveParams, sessionIDs []string) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.CourseID) == "" {
		vErr.add("course_id", "course id is required")
	}
	if len(sessionIDs) == 0 {
		vErr.add("session_ids", "at least one session is required")
	}
	if strings.TrimSpace(params.Student.Name) == "" {
		vErr.add("student_name", "student name is required")
	}
	email := strings.TrimSpace(params.Student.Email)
	if email == "" {
		vErr.add("student_email", "student email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		vErr.add("student_email", "student email is invalid")
	}
	return vErr
}
