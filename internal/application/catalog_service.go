package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/training-booking/internal/persistence"
)

// CatalogService maintains the local mirror of the course catalog.
type CatalogService struct {
	*core
}

func (s *CatalogService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CatalogService", operation, attrs...)
}

// UpsertCourse creates or replaces the mirror entry for courseID. A removed
// course becomes active again.
func (s *CatalogService) UpsertCourse(ctx context.Context, courseID string, input CourseInput) (course Course, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpsertCourse", "course_id", courseID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to upsert course", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "course upserted")
	}()

	vErr := validateCourseInput(courseID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	unlock, err := s.locks.Lock(ctx, courseLockKey(strings.TrimSpace(courseID)))
	if err != nil {
		return
	}
	defer unlock()

	now := s.now()
	course = Course{
		ID:               strings.TrimSpace(courseID),
		SchoolID:         strings.TrimSpace(input.SchoolID),
		Title:            strings.TrimSpace(input.Title),
		LocationID:       strings.TrimSpace(input.LocationID),
		InstructorID:     strings.TrimSpace(input.InstructorID),
		Capacity:         input.Capacity,
		LocationCapacity: input.LocationCapacity,
		Price:            input.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(input.Currency)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if course.Capacity == 0 {
		course.Capacity = s.cfg.DefaultCapacity
	}
	if course.Currency == "" {
		course.Currency = s.cfg.Currency
	}

	existing, getErr := s.store.GetCourse(ctx, course.ID)
	switch {
	case getErr == nil:
		course.CreatedAt = existing.CreatedAt
	case !errors.Is(getErr, persistence.ErrNotFound):
		err = mapStoreError("get course", getErr)
		return
	}

	if err = s.store.UpsertCourse(ctx, course.record()); err != nil {
		err = mapStoreError("upsert course", err)
		return
	}
	// Location and instructor feed conflict detection.
	s.reports.Invalidate()
	return course, nil
}

// GetCourse returns an active course. Unknown and removed courses yield
// CourseNotFoundError.
func (s *CatalogService) GetCourse(ctx context.Context, courseID string) (Course, error) {
	if s == nil || s.core == nil {
		return Course{}, fmt.Errorf("CatalogService is nil")
	}
	rec, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Course{}, &CourseNotFoundError{CourseID: courseID}
		}
		return Course{}, mapStoreError("get course", err)
	}
	if rec.Deleted {
		return Course{}, &CourseNotFoundError{CourseID: courseID}
	}
	return courseFromRecord(rec), nil
}

// ListCourses returns every active course.
func (s *CatalogService) ListCourses(ctx context.Context) ([]Course, error) {
	if s == nil || s.core == nil {
		return nil, fmt.Errorf("CatalogService is nil")
	}
	recs, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, mapStoreError("list courses", err)
	}
	courses := make([]Course, 0, len(recs))
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		courses = append(courses, courseFromRecord(rec))
	}
	return courses, nil
}

// RemoveCourse marks the course deleted and cancels all of its scheduled
// sessions. It returns how many sessions were cancelled.
func (s *CatalogService) RemoveCourse(ctx context.Context, courseID string) (cancelled int, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RemoveCourse", "course_id", courseID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove course", "error", err, "error_kind", ErrorKind(err), "sessions_cancelled", cancelled)
			return
		}
		logger.InfoContext(ctx, "course removed", "sessions_cancelled", cancelled)
	}()

	// Held across the cascade so no schedule commit lands between the
	// deletion mark and the cancellations.
	unlock, err := s.locks.Lock(ctx, courseLockKey(courseID))
	if err != nil {
		return
	}
	defer unlock()

	rec, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = &CourseNotFoundError{CourseID: courseID}
			return
		}
		err = mapStoreError("get course", err)
		return
	}
	if !rec.Deleted {
		rec.Deleted = true
		rec.UpdatedAt = s.now()
		if err = s.store.UpsertCourse(ctx, rec); err != nil {
			err = mapStoreError("remove course", err)
			return
		}
	}

	sessions, err := s.store.ListSessions(ctx, persistence.SessionFilter{
		CourseID: courseID,
		Statuses: []string{string(SessionScheduled)},
	})
	if err != nil {
		err = mapStoreError("list sessions", err)
		return
	}

	cancelled, changed, err := s.cancelSessions(ctx, sessions)
	for _, session := range changed {
		s.publish(ctx, EventSessionCancelled, sessionEventFor(session))
	}
	s.reports.Invalidate()
	return cancelled, err
}

func validateCourseInput(courseID string, input CourseInput) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(courseID) == "" {
		vErr.add("course_id", "course id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	if strings.TrimSpace(input.LocationID) == "" {
		vErr.add("location_id", "location is required")
	}
	if strings.TrimSpace(input.InstructorID) == "" {
		vErr.add("instructor_id", "instructor is required")
	}
	if input.Capacity < 0 {
		vErr.add("capacity", "capacity must not be negative")
	}
	if input.LocationCapacity < 0 {
		vErr.add("location_capacity", "location capacity must not be negative")
	}
	if input.Price < 0 {
		vErr.add("price", "price must not be negative")
	}
	return vErr
}
