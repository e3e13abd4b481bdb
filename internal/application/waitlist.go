package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/recurrence"
)

// JoinWaitlist queues a student behind everyone already waiting on the
// course. A student holds at most one active entry per course.
func (s *BookingService) JoinWaitlist(ctx context.Context, params JoinWaitlistParams) (entry WaitlistEntry, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "JoinWaitlist",
		"course_id", params.CourseID,
		"student_id", params.Student.ID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to join waitlist", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("entry_id", entry.ID).InfoContext(ctx, "waitlist joined", "position", entry.Position)
	}()

	params.CourseID = strings.TrimSpace(params.CourseID)
	params.SessionID = strings.TrimSpace(params.SessionID)
	if vErr := validateJoinWaitlist(params); vErr.HasErrors() {
		err = vErr
		return
	}

	course, err := s.catalog.GetCourse(ctx, params.CourseID)
	if err != nil {
		return
	}
	if params.SessionID != "" {
		rec, getErr := s.store.GetSession(ctx, params.SessionID)
		if getErr != nil {
			if errors.Is(getErr, persistence.ErrNotFound) {
				err = fmt.Errorf("session %s: %w", params.SessionID, ErrNotFound)
				return
			}
			err = mapStoreError("get session", getErr)
			return
		}
		if rec.CourseID != course.ID {
			vErr := &ValidationError{}
			vErr.add("session_id", fmt.Sprintf("session %s does not belong to course %s", params.SessionID, course.ID))
			err = vErr
			return
		}
	}

	unlock, err := s.locks.Lock(ctx, waitlistLockKey(course.ID))
	if err != nil {
		return
	}
	defer unlock()

	recs, err := s.store.ListWaitlist(ctx, persistence.WaitlistFilter{CourseID: course.ID})
	if err != nil {
		err = mapStoreError("list waitlist", err)
		return
	}
	studentID := strings.TrimSpace(params.Student.ID)
	last := 0
	for _, rec := range recs {
		if rec.StudentID == studentID && WaitlistStatus(rec.Status).Active() {
			err = fmt.Errorf("student %s is already on the waitlist of course %s: %w", studentID, course.ID, ErrAlreadyExists)
			return
		}
		last = max(last, rec.Position)
	}

	now := s.now()
	entry = WaitlistEntry{
		ID:           s.idGenerator(),
		CourseID:     course.ID,
		SessionID:    params.SessionID,
		StudentID:    studentID,
		StudentName:  strings.TrimSpace(params.Student.Name),
		StudentEmail: strings.TrimSpace(params.Student.Email),
		Position:     last + 1,
		Status:       WaitlistWaiting,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = s.store.AddWaitlistEntry(ctx, entry.record()); err != nil {
		err = mapStoreError("add waitlist entry", err)
		entry = WaitlistEntry{}
		return
	}
	return entry, nil
}

// ListWaitlist returns a course's waitlist in queue order, including entries
// that were already accepted or expired.
func (s *BookingService) ListWaitlist(ctx context.Context, courseID string) ([]WaitlistEntry, error) {
	if s == nil || s.core == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		vErr := &ValidationError{}
		vErr.add("course_id", "course id is required")
		return nil, vErr
	}
	recs, err := s.store.ListWaitlist(ctx, persistence.WaitlistFilter{CourseID: courseID})
	if err != nil {
		return nil, mapStoreError("list waitlist", err)
	}
	entries := make([]WaitlistEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, waitlistFromRecord(rec))
	}
	return entries, nil
}

// LeaveWaitlist removes a student's entry. Entries owned by another student
// are reported as not found. Leaving with an open offer passes the offer on.
func (s *BookingService) LeaveWaitlist(ctx context.Context, entryID, studentID string) (err error) {
	if s == nil || s.core == nil {
		return fmt.Errorf("BookingService is nil")
	}

	logger := s.loggerWith(ctx, "LeaveWaitlist", "entry_id", entryID, "student_id", studentID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to leave waitlist", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "waitlist left")
	}()

	rec, err := s.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return mapStoreError("get waitlist entry", err)
	}
	if rec.StudentID != strings.TrimSpace(studentID) {
		return ErrNotFound
	}

	unlock, err := s.locks.Lock(ctx, waitlistLockKey(rec.CourseID))
	if err != nil {
		return err
	}
	defer unlock()

	if err = s.store.DeleteWaitlistEntry(ctx, entryID); err != nil {
		return mapStoreError("delete waitlist entry", err)
	}
	if WaitlistStatus(rec.Status) == WaitlistOffered {
		s.offerFreeSeats(ctx, rec.CourseID)
	}
	return nil
}

// ExpireWaitlistOffers closes every offer whose window has ended and offers
// the seat to the next student in line. It returns how many offers expired.
func (s *BookingService) ExpireWaitlistOffers(ctx context.Context) (expired int, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ExpireWaitlistOffers")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to expire waitlist offers", "error", err, "error_kind", ErrorKind(err), "expired", expired)
			return
		}
		if expired > 0 {
			logger.InfoContext(ctx, "waitlist offers expired", "expired", expired)
		}
	}()

	now := s.now()
	recs, err := s.store.ListWaitlist(ctx, persistence.WaitlistFilter{
		Statuses:           []string{string(WaitlistOffered)},
		OfferExpiresBefore: &now,
	})
	if err != nil {
		err = mapStoreError("list waitlist", err)
		return
	}

	var errs []error
	for _, rec := range recs {
		changed, expireErr := s.expireOffer(ctx, rec.ID, rec.CourseID)
		if expireErr != nil {
			errs = append(errs, fmt.Errorf("waitlist entry %s: %w", rec.ID, expireErr))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *BookingService) expireOffer(ctx context.Context, entryID, courseID string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, waitlistLockKey(courseID))
	if err != nil {
		return false, err
	}
	defer unlock()

	var changed bool
	err = s.retry(ctx, "expire waitlist offer", func() error {
		rec, err := s.store.GetWaitlistEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				changed = false
				return nil
			}
			return mapStoreError("get waitlist entry", err)
		}
		entry := waitlistFromRecord(rec)
		now := s.now()
		if entry.Status != WaitlistOffered || entry.OfferExpiresAt == nil || entry.OfferExpiresAt.After(now) {
			changed = false
			return nil
		}
		entry.Status = WaitlistExpired
		entry.UpdatedAt = now
		if err := s.store.UpdateWaitlistEntry(ctx, entry.record(), rec.Version); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) {
				return &ConcurrencyConflictError{Entity: "waitlist entry", ID: entryID}
			}
			return mapStoreError("update waitlist entry", err)
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return false, err
	}
	s.offerFreeSeats(ctx, courseID)
	return true, nil
}

// acceptWaitlist closes the student's active entry on a course once they
// hold a booking for it.
func (s *BookingService) acceptWaitlist(ctx context.Context, courseID, studentID string) {
	if studentID == "" {
		return
	}
	logger := s.loggerWith(ctx, "acceptWaitlist", "course_id", courseID, "student_id", studentID)

	unlock, err := s.locks.Lock(ctx, waitlistLockKey(courseID))
	if err != nil {
		logger.WarnContext(ctx, "failed to lock waitlist", "error", err)
		return
	}
	defer unlock()

	recs, err := s.store.ListWaitlist(ctx, persistence.WaitlistFilter{
		CourseID:  courseID,
		StudentID: studentID,
		Statuses:  []string{string(WaitlistWaiting), string(WaitlistOffered)},
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to read waitlist", "error", err)
		return
	}
	for _, rec := range recs {
		entry := waitlistFromRecord(rec)
		entry.Status = WaitlistAccepted
		entry.OfferExpiresAt = nil
		entry.UpdatedAt = s.now()
		if err := s.store.UpdateWaitlistEntry(ctx, entry.record(), rec.Version); err != nil {
			logger.WarnContext(ctx, "failed to accept waitlist entry", "entry_id", rec.ID, "error", err)
		}
	}
}

// offerWaitlist hands the seats a released booking returned to the next
// waiting student who wants one of them.
func (c *core) offerWaitlist(ctx context.Context, released Booking) {
	unlock, err := c.locks.Lock(ctx, waitlistLockKey(released.CourseID))
	if err != nil {
		c.waitlistLogger(ctx, released.CourseID).WarnContext(ctx, "failed to lock waitlist", "error", err)
		return
	}
	defer unlock()

	if _, err := c.catalog.GetCourse(ctx, released.CourseID); err != nil {
		return
	}
	if _, _, err := c.offerNext(ctx, released.CourseID, released.SessionIDs); err != nil {
		c.waitlistLogger(ctx, released.CourseID).
			WarnContext(ctx, "failed to offer released seats", "booking_id", released.ID, "error", err)
	}
}

// offerFreeSeats offers any seat still free on an upcoming session of the
// course. The caller holds the course's waitlist lock.
func (c *core) offerFreeSeats(ctx context.Context, courseID string) {
	logger := c.waitlistLogger(ctx, courseID)
	if _, err := c.catalog.GetCourse(ctx, courseID); err != nil {
		return
	}
	recs, err := c.store.ListSessions(ctx, persistence.SessionFilter{
		CourseID: courseID,
		Statuses: []string{string(SessionScheduled)},
		DateFrom: c.today().Format(recurrence.DateLayout),
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to list sessions", "error", err)
		return
	}
	free := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.CurrentEnrollment < rec.MaxCapacity {
			free = append(free, rec.ID)
		}
	}
	if len(free) == 0 {
		return
	}
	if _, _, err := c.offerNext(ctx, courseID, free); err != nil {
		logger.WarnContext(ctx, "failed to offer free seats", "error", err)
	}
}

// offerNext moves the first waiting entry that wants one of sessionIDs to
// offered. The caller holds the course's waitlist lock.
func (c *core) offerNext(ctx context.Context, courseID string, sessionIDs []string) (WaitlistEntry, bool, error) {
	var (
		offered WaitlistEntry
		found   bool
	)
	err := c.retry(ctx, "offer waitlist", func() error {
		found = false
		recs, err := c.store.ListWaitlist(ctx, persistence.WaitlistFilter{
			CourseID: courseID,
			Statuses: []string{string(WaitlistWaiting)},
		})
		if err != nil {
			return mapStoreError("list waitlist", err)
		}
		for _, rec := range recs {
			entry := waitlistFromRecord(rec)
			if !entry.wants(sessionIDs) {
				continue
			}
			now := c.now()
			expires := now.Add(c.cfg.WaitlistOfferWindow)
			entry.Status = WaitlistOffered
			entry.OfferExpiresAt = &expires
			entry.UpdatedAt = now
			if err := c.store.UpdateWaitlistEntry(ctx, entry.record(), rec.Version); err != nil {
				if errors.Is(err, persistence.ErrVersionConflict) {
					return &ConcurrencyConflictError{Entity: "waitlist entry", ID: rec.ID}
				}
				return mapStoreError("update waitlist entry", err)
			}
			entry.Version = rec.Version + 1
			offered, found = entry, true
			return nil
		}
		return nil
	})
	if err != nil || !found {
		return WaitlistEntry{}, false, err
	}

	c.waitlistLogger(ctx, courseID).InfoContext(ctx, "waitlist seat offered",
		"entry_id", offered.ID, "student_id", offered.StudentID, "position", offered.Position)
	c.publish(ctx, EventWaitlistOffered, waitlistEventFor(offered))
	return offered, true, nil
}

func (c *core) waitlistLogger(ctx context.Context, courseID string) *slog.Logger {
	return serviceLogger(ctx, c.logger, "BookingService", "waitlist", "course_id", courseID)
}

func validateJoinWaitlist(params JoinWaitlistParams) *ValidationError {
	vErr := &ValidationError{}
	if params.CourseID == "" {
		vErr.add("course_id", "course id is required")
	}
	if strings.TrimSpace(params.Student.ID) == "" {
		vErr.add("student_id", "student id is required")
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
