package scheduler

import (
	"sort"
	"strconv"
	"time"

	"github.com/example/training-booking/internal/recurrence"
)

// Slot is a dated time window bound to a location and an instructor.
//
// Candidates usually carry an empty SessionID; existing slots carry the id of
// the persisted session. Inactive marks sessions that no longer occupy their
// location or instructor (cancelled or completed) and are skipped.
type Slot struct {
	SessionID    string
	LocationID   string
	InstructorID string
	Date         time.Time
	Start        recurrence.TimeOfDay
	End          recurrence.TimeOfDay
	Inactive     bool
}

// Overlaps applies the half-open interval test to two slots on the same date.
func (s Slot) Overlaps(other Slot) bool {
	return sameDate(s.Date, other.Date) && s.Start < other.End && other.Start < s.End
}

// ConflictType describes the resource that is double-booked.
type ConflictType string

const (
	// ConflictTypeLocation indicates the location is double-booked.
	ConflictTypeLocation ConflictType = "location"
	// ConflictTypeInstructor indicates the instructor is double-booked.
	ConflictTypeInstructor ConflictType = "instructor"
)

// Conflict names the already-occupying slot a candidate collides with.
type Conflict struct {
	SessionID string
	Type      ConflictType
	Date      time.Time
	Start     recurrence.TimeOfDay
	End       recurrence.TimeOfDay
}

// Report groups conflicts per resource type.
type Report struct {
	Location   []Conflict
	Instructor []Conflict
}

// HasConflict reports whether any conflict was found.
func (r Report) HasConflict() bool {
	return len(r.Location) > 0 || len(r.Instructor) > 0
}

// Detector finds location and instructor overlaps between candidate and existing slots.
type Detector struct{}

// NewDetector constructs a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

type occupant struct {
	key  string
	slot Slot
}

// Detect compares every candidate against the active existing slots and the
// candidates that precede it. Each conflict entry describes the occupying
// slot (an existing session, or the earlier candidate when two candidates
// collide), so a single occupant appears at most once per list. Lists are
// ordered by date, start time and session id.
func (d *Detector) Detect(candidates, existing []Slot) Report {
	byDate := make(map[string][]occupant, len(existing))
	for i, slot := range existing {
		if slot.Inactive {
			continue
		}
		key := dateKey(slot.Date)
		byDate[key] = append(byDate[key], occupant{key: occupantKey("e", i, slot), slot: slot})
	}

	seenLocation := make(map[string]struct{})
	seenInstructor := make(map[string]struct{})
	var report Report

	for i, candidate := range candidates {
		key := dateKey(candidate.Date)
		for _, occ := range byDate[key] {
			if !candidate.Overlaps(occ.slot) {
				continue
			}
			if candidate.LocationID != "" && candidate.LocationID == occ.slot.LocationID {
				if _, dup := seenLocation[occ.key]; !dup {
					seenLocation[occ.key] = struct{}{}
					report.Location = append(report.Location, conflictFor(occ.slot, ConflictTypeLocation))
				}
			}
			if candidate.InstructorID != "" && candidate.InstructorID == occ.slot.InstructorID {
				if _, dup := seenInstructor[occ.key]; !dup {
					seenInstructor[occ.key] = struct{}{}
					report.Instructor = append(report.Instructor, conflictFor(occ.slot, ConflictTypeInstructor))
				}
			}
		}
		byDate[key] = append(byDate[key], occupant{key: occupantKey("c", i, candidate), slot: candidate})
	}

	sortConflicts(report.Location)
	sortConflicts(report.Instructor)
	return report
}

func conflictFor(slot Slot, kind ConflictType) Conflict {
	return Conflict{
		SessionID: slot.SessionID,
		Type:      kind,
		Date:      slot.Date,
		Start:     slot.Start,
		End:       slot.End,
	}
}

func occupantKey(prefix string, index int, slot Slot) string {
	if slot.SessionID != "" {
		return "id:" + slot.SessionID
	}
	return prefix + ":" + dateKey(slot.Date) + ":" + slot.Start.String() + ":" + strconv.Itoa(index)
}

func sortConflicts(list []Conflict) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !sameDate(a.Date, b.Date) {
			return dateKey(a.Date) < dateKey(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.SessionID < b.SessionID
	})
}

func dateKey(t time.Time) string {
	return t.Format(recurrence.DateLayout)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
