package scheduler

import (
	"testing"
	"time"

	"github.com/example/training-booking/internal/recurrence"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(recurrence.DateLayout, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return d
}

func hm(h, m int) recurrence.TimeOfDay { return recurrence.NewTimeOfDay(h, m) }

func TestDetector_Detect(t *testing.T) {
	t.Parallel()

	detector := NewDetector()

	t.Run("two overlapping candidates at one location", func(t *testing.T) {
		t.Parallel()
		candidates := []Slot{
			{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)},
			{LocationID: "loc-1", InstructorID: "ins-2", Date: day(t, "2025-02-01"), Start: hm(9, 30), End: hm(10, 30)},
		}
		report := detector.Detect(candidates, nil)
		if !report.HasConflict() {
			t.Fatal("expected conflict")
		}
		if len(report.Location) != 1 {
			t.Fatalf("expected one location conflict, got %d", len(report.Location))
		}
		got := report.Location[0]
		if got.Date.Format(recurrence.DateLayout) != "2025-02-01" || got.Start != hm(9, 0) {
			t.Fatalf("unexpected entry %+v", got)
		}
		if len(report.Instructor) != 0 {
			t.Fatalf("expected no instructor conflicts, got %+v", report.Instructor)
		}
	})

	t.Run("candidate against existing reports the existing session", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-9", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 30), End: hm(10, 30)}}
		report := detector.Detect(candidates, existing)
		if len(report.Location) != 1 || report.Location[0].SessionID != "s-1" || report.Location[0].Start != hm(9, 0) {
			t.Fatalf("unexpected location conflicts %+v", report.Location)
		}
	})

	t.Run("instructor overlap in another location", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-2", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(13, 0), End: hm(14, 0)}}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(13, 59), End: hm(15, 0)}}
		report := detector.Detect(candidates, existing)
		if len(report.Location) != 0 || len(report.Instructor) != 1 {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Instructor[0].Type != ConflictTypeInstructor {
			t.Fatalf("unexpected type %q", report.Instructor[0].Type)
		}
	})

	t.Run("same slot appears in both lists", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		report := detector.Detect(candidates, existing)
		if len(report.Location) != 1 || len(report.Instructor) != 1 {
			t.Fatalf("unexpected report %+v", report)
		}
	})

	t.Run("touching intervals do not overlap", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		candidates := []Slot{
			{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(10, 0), End: hm(11, 0)},
			{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(8, 0), End: hm(9, 0)},
		}
		if report := detector.Detect(candidates, existing); report.HasConflict() {
			t.Fatalf("expected no conflict, got %+v", report)
		}
	})

	t.Run("different dates never conflict", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-02"), Start: hm(9, 0), End: hm(10, 0)}}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		if report := detector.Detect(candidates, existing); report.HasConflict() {
			t.Fatalf("expected no conflict, got %+v", report)
		}
	})

	t.Run("inactive sessions are ignored", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0), Inactive: true}}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)}}
		if report := detector.Detect(candidates, existing); report.HasConflict() {
			t.Fatalf("expected no conflict, got %+v", report)
		}
	})

	t.Run("existing session reported once and lists are ordered", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{
			{SessionID: "s-b", LocationID: "loc-1", Date: day(t, "2025-02-03"), Start: hm(9, 0), End: hm(12, 0)},
			{SessionID: "s-a", LocationID: "loc-1", Date: day(t, "2025-02-01"), Start: hm(11, 0), End: hm(12, 0)},
			{SessionID: "s-c", LocationID: "loc-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)},
		}
		candidates := []Slot{
			{LocationID: "loc-1", Date: day(t, "2025-02-03"), Start: hm(9, 0), End: hm(9, 30)},
			{LocationID: "loc-1", Date: day(t, "2025-02-03"), Start: hm(10, 0), End: hm(10, 30)},
			{LocationID: "loc-1", Date: day(t, "2025-02-01"), Start: hm(8, 0), End: hm(11, 30)},
		}
		report := detector.Detect(candidates, existing)
		want := []string{"s-c", "s-a", "s-b"}
		if len(report.Location) != len(want) {
			t.Fatalf("expected %d conflicts, got %+v", len(want), report.Location)
		}
		for i, id := range want {
			if report.Location[i].SessionID != id {
				t.Fatalf("position %d = %q, want %q", i, report.Location[i].SessionID, id)
			}
		}
	})

	t.Run("repeat detection is stable", func(t *testing.T) {
		t.Parallel()
		existing := []Slot{
			{SessionID: "s-1", LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)},
			{SessionID: "s-2", LocationID: "loc-2", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 0), End: hm(10, 0)},
		}
		candidates := []Slot{{LocationID: "loc-1", InstructorID: "ins-1", Date: day(t, "2025-02-01"), Start: hm(9, 15), End: hm(9, 45)}}
		first := detector.Detect(candidates, existing)
		second := detector.Detect(candidates, existing)
		if len(first.Instructor) != 2 || len(second.Instructor) != 2 {
			t.Fatalf("unexpected instructor conflicts %+v / %+v", first.Instructor, second.Instructor)
		}
		for i := range first.Instructor {
			if first.Instructor[i] != second.Instructor[i] {
				t.Fatalf("reports differ at %d: %+v vs %+v", i, first.Instructor[i], second.Instructor[i])
			}
		}
	})
}
