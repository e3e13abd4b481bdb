package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCatalogService_UpsertCourse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	course, err := h.svc.Catalog.UpsertCourse(ctx, "course-1", CourseInput{
		Title: " Pottery ", LocationID: "studio", InstructorID: "inst-1", Price: 4500, Currency: "idr",
	})
	if err != nil {
		t.Fatalf("UpsertCourse() error = %v", err)
	}
	if course.Title != "Pottery" || course.Capacity != 20 || course.Currency != "IDR" {
		t.Fatalf("unexpected course %+v", course)
	}
	created := course.CreatedAt

	h.clock.Advance(time.Minute)
	updated, err := h.svc.Catalog.UpsertCourse(ctx, "course-1", CourseInput{
		Title: "Pottery II", LocationID: "studio", InstructorID: "inst-1",
	})
	if err != nil {
		t.Fatalf("UpsertCourse() error = %v", err)
	}
	if !updated.CreatedAt.Equal(created) || !updated.UpdatedAt.After(created) || updated.Currency != "JPY" {
		t.Fatalf("unexpected update %+v", updated)
	}

	courses, err := h.svc.Catalog.ListCourses(ctx)
	if err != nil || len(courses) != 1 || courses[0].Title != "Pottery II" {
		t.Fatalf("ListCourses() = %+v, %v", courses, err)
	}
}

func TestCatalogService_UpsertCourseValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.Catalog.UpsertCourse(context.Background(), " ", CourseInput{Capacity: -1, Price: -5})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"course_id", "title", "location_id", "instructor_id", "capacity", "price"} {
		if _, ok := vErr.FieldErrors[field]; !ok {
			t.Errorf("missing %s field error in %+v", field, vErr.FieldErrors)
		}
	}
}

func TestCatalogService_RemoveCourseCancelsSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{})
	result := h.schedule(t, "course-1", RuleInput{
		Kind: "custom", StartDate: "2025-03-01", EndDate: "2025-03-10", Interval: 3, StartTime: "09:00", EndTime: "10:00",
	})
	if _, err := h.svc.Schedules.CancelSession(ctx, result.SessionIDs[0]); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}

	cancelled, err := h.svc.Catalog.RemoveCourse(ctx, "course-1")
	if err != nil {
		t.Fatalf("RemoveCourse() error = %v", err)
	}
	if cancelled != len(result.SessionIDs)-1 {
		t.Fatalf("cancelled = %d, want %d", cancelled, len(result.SessionIDs)-1)
	}
	if _, err := h.svc.Catalog.GetCourse(ctx, "course-1"); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected removed course to be hidden, got %v", err)
	}
	sessions, err := h.svc.Schedules.ListSessions(ctx, "course-1", SessionScheduled)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("scheduled sessions left after removal: %d, %v", len(sessions), err)
	}
	if _, err := h.svc.Catalog.RemoveCourse(ctx, "missing"); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
}

func TestCatalogService_RemoveCourseSerializesWithCommit(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		h.course(t, "course-1", CourseInput{})

		// Queue both calls behind the course lock so they contend for it.
		release, err := h.svc.Catalog.locks.Lock(ctx, courseLockKey("course-1"))
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}

		var (
			wg        sync.WaitGroup
			createErr error
			removeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, createErr = h.svc.Schedules.CreateSchedule(ctx, "course-1", RuleInput{
				Kind: "daily", StartDate: "2025-03-01", EndDate: "2025-03-05", StartTime: "09:00", EndTime: "10:00",
			})
		}()
		go func() {
			defer wg.Done()
			_, removeErr = h.svc.Catalog.RemoveCourse(ctx, "course-1")
		}()
		time.Sleep(5 * time.Millisecond)
		release()
		wg.Wait()

		if removeErr != nil {
			t.Fatalf("RemoveCourse() error = %v", removeErr)
		}
		if createErr != nil && !errors.Is(createErr, ErrCourseNotFound) {
			t.Fatalf("CreateSchedule() error = %v", createErr)
		}
		sessions, err := h.svc.Schedules.ListSessions(ctx, "course-1", SessionScheduled)
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(sessions) != 0 {
			t.Fatalf("removed course still owns %d scheduled sessions", len(sessions))
		}
	}
}
