package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/recurrence"
	"github.com/example/training-booking/internal/scheduler"
)

// ScheduleService validates recurrence rules against existing sessions and
// commits them as dated sessions.
type ScheduleService struct {
	*core
}

func (s *ScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ScheduleService", operation, attrs...)
}

// ValidateSchedule expands the rule and reports conflicts without writing
// anything. Repeating the same request while no session changes yields the
// same report.
func (s *ScheduleService) ValidateSchedule(ctx context.Context, courseID string, input RuleInput) (report ConflictReport, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ValidateSchedule", "course_id", courseID, "kind", input.Kind)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to validate schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule validated", "has_conflict", report.HasConflict)
	}()

	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return
	}
	rule, err := s.parseRule(input)
	if err != nil {
		return
	}

	candidate := Schedule{CourseID: course.ID, Rule: rule}
	key := buildReportCacheKey(course, candidate)
	if cached, ok := s.reports.Get(key); ok {
		return cached, nil
	}

	generation := s.reports.Generation()
	occurrences, err := s.expand(rule)
	if err != nil {
		return
	}
	report, err = s.detect(ctx, course, occurrences, nil)
	if err != nil {
		return
	}
	s.reports.Store(key, generation, report)
	return report, nil
}

// CreateSchedule expands the rule, re-runs detection and persists the
// schedule with all of its sessions in one batch. Conflicts are reported but
// only block the commit when strict conflicts are configured.
func (s *ScheduleService) CreateSchedule(ctx context.Context, courseID string, input RuleInput) (result CommitResult, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateSchedule", "course_id", courseID, "kind", input.Kind)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("schedule_id", result.Schedule.ID).InfoContext(ctx, "schedule created",
			"sessions_created", result.SessionsCreated,
			"has_conflict", result.Report.HasConflict,
		)
	}()

	rule, err := s.parseRule(input)
	if err != nil {
		return
	}

	course, unlock, err := s.lockCourse(ctx, courseID)
	if err != nil {
		return
	}
	defer unlock()

	occurrences, err := s.expand(rule)
	if err != nil {
		return
	}
	now := s.now()
	schedule := Schedule{
		ID:           s.idGenerator(),
		CourseID:     course.ID,
		Rule:         rule,
		SessionCount: len(occurrences),
		CreatedAt:    now,
	}
	ids := make([]string, 0, len(occurrences))
	for range occurrences {
		ids = append(ids, s.idGenerator())
	}

	report, err := s.detect(ctx, course, occurrences, ids)
	if err != nil {
		return
	}
	if report.HasConflict && s.cfg.StrictConflicts {
		err = &ScheduleConflictError{Report: report}
		return
	}

	capacity := course.sessionCapacity(s.cfg.DefaultCapacity)
	records := make([]persistence.Session, 0, len(occurrences))
	for i, occ := range occurrences {
		session := Session{
			ID:           ids[i],
			CourseID:     course.ID,
			ScheduleID:   schedule.ID,
			LocationID:   course.LocationID,
			InstructorID: course.InstructorID,
			Date:         occ.Date,
			StartTime:    occ.Start,
			EndTime:      occ.End,
			MaxCapacity:  capacity,
			Status:       SessionScheduled,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		records = append(records, session.record())
	}

	if err = s.store.CreateSchedule(ctx, schedule.record(), records); err != nil {
		err = mapStoreError("create schedule", err)
		return
	}
	s.reports.Invalidate()

	result = CommitResult{
		Schedule:        schedule,
		SessionsCreated: len(records),
		SessionIDs:      ids,
		Report:          report,
	}
	s.publish(ctx, EventScheduleCreated, ScheduleEvent{
		ScheduleID:  schedule.ID,
		CourseID:    course.ID,
		SessionIDs:  append([]string(nil), ids...),
		HasConflict: report.HasConflict,
	})
	return result, nil
}

// lockCourse takes the course lock together with its location and
// instructor locks, so concurrent commits for the same location or
// instructor detect and persist one after the other and a removal cannot
// interleave with a commit. The course is re-read under the lock.
func (s *ScheduleService) lockCourse(ctx context.Context, courseID string) (Course, func(), error) {
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return Course{}, nil, err
	}
	for attempt := 0; attempt < s.cfg.MaxReserveAttempts; attempt++ {
		unlock, err := s.locks.Lock(ctx,
			courseLockKey(course.ID),
			locationLockKey(course.LocationID),
			instructorLockKey(course.InstructorID),
		)
		if err != nil {
			return Course{}, nil, err
		}
		current, err := s.catalog.GetCourse(ctx, courseID)
		if err != nil {
			unlock()
			return Course{}, nil, err
		}
		if current.LocationID == course.LocationID && current.InstructorID == course.InstructorID {
			return current, unlock, nil
		}
		// The course moved while we waited; lock the new keys instead.
		unlock()
		course = current
	}
	return Course{}, nil, &TransientStoreError{Op: "lock course", Err: fmt.Errorf("course %s kept changing", courseID)}
}

// ListSchedules returns a course's schedules in creation order.
func (s *ScheduleService) ListSchedules(ctx context.Context, courseID string) ([]Schedule, error) {
	if s == nil || s.core == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, &CourseNotFoundError{CourseID: courseID}
		}
		return nil, mapStoreError("get course", err)
	}
	recs, err := s.store.ListSchedules(ctx, courseID)
	if err != nil {
		return nil, mapStoreError("list schedules", err)
	}
	schedules := make([]Schedule, 0, len(recs))
	for _, rec := range recs {
		schedule, err := scheduleFromRecord(s.recurrence, rec)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// CancelSchedule cancels every still scheduled session generated by the
// schedule and returns how many changed.
func (s *ScheduleService) CancelSchedule(ctx context.Context, scheduleID string) (cancelled int, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CancelSchedule", "schedule_id", scheduleID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule cancelled", "sessions_cancelled", cancelled)
	}()

	if _, err = s.store.GetSchedule(ctx, scheduleID); err != nil {
		err = mapStoreError("get schedule", err)
		return
	}
	sessions, err := s.store.ListSessions(ctx, persistence.SessionFilter{
		ScheduleID: scheduleID,
		Statuses:   []string{string(SessionScheduled)},
	})
	if err != nil {
		err = mapStoreError("list sessions", err)
		return
	}

	cancelled, changed, err := s.cancelSessions(ctx, sessions)
	for _, session := range changed {
		s.publish(ctx, EventSessionCancelled, sessionEventFor(session))
	}
	return cancelled, err
}

// GetSession returns a session by id.
func (s *ScheduleService) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if s == nil || s.core == nil {
		return Session{}, fmt.Errorf("ScheduleService is nil")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, mapStoreError("get session", err)
	}
	return sessionFromRecord(s.recurrence, rec)
}

// ListSessions returns a course's sessions ordered by date and start time,
// optionally narrowed to one status.
func (s *ScheduleService) ListSessions(ctx context.Context, courseID string, status SessionStatus) ([]Session, error) {
	if s == nil || s.core == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	filter := persistence.SessionFilter{CourseID: courseID}
	if status != "" {
		if !status.Valid() {
			vErr := &ValidationError{}
			vErr.add("status", "status must be one of scheduled, cancelled, completed")
			return nil, vErr
		}
		filter.Statuses = []string{string(status)}
	}
	recs, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, mapStoreError("list sessions", err)
	}
	return sessionsFromRecords(s.recurrence, recs)
}

// CancelSession cancels one scheduled session. Reservations that have not
// committed yet fail with SessionNotScheduledError from then on.
func (s *ScheduleService) CancelSession(ctx context.Context, sessionID string) (session Session, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CancelSession", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session cancelled")
	}()

	session, changed, err := s.cancelSession(ctx, sessionID)
	if err != nil {
		return
	}
	if changed {
		s.publish(ctx, EventSessionCancelled, sessionEventFor(session))
	}
	return session, nil
}

// CompleteElapsedSessions marks scheduled sessions dated before today as
// completed and returns how many changed.
func (s *ScheduleService) CompleteElapsedSessions(ctx context.Context) (completed int, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CompleteElapsedSessions")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to complete sessions", "error", err, "error_kind", ErrorKind(err), "completed", completed)
			return
		}
		if completed > 0 {
			logger.InfoContext(ctx, "sessions completed", "completed", completed)
		}
	}()

	yesterday := s.today().AddDate(0, 0, -1)
	recs, err := s.store.ListSessions(ctx, persistence.SessionFilter{
		Statuses: []string{string(SessionScheduled)},
		DateTo:   yesterday.Format(recurrence.DateLayout),
	})
	if err != nil {
		err = mapStoreError("list sessions", err)
		return
	}

	var errs []error
	for _, rec := range recs {
		changed, completeErr := s.completeSession(ctx, rec.ID)
		if completeErr != nil {
			errs = append(errs, completeErr)
			continue
		}
		if changed {
			completed++
		}
	}
	if completed > 0 {
		s.reports.Invalidate()
	}
	return completed, errors.Join(errs...)
}

func (s *ScheduleService) completeSession(ctx context.Context, id string) (changed bool, err error) {
	unlock, err := s.locks.Lock(ctx, sessionLockKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	err = s.retry(ctx, "complete session", func() error {
		rec, err := s.store.GetSession(ctx, id)
		if err != nil {
			return mapStoreError("get session", err)
		}
		if SessionStatus(rec.Status) != SessionScheduled || rec.Date >= s.today().Format(recurrence.DateLayout) {
			changed = false
			return nil
		}
		if _, err := s.store.UpdateSessionStatus(ctx, id, string(SessionCompleted), rec.Version, s.now()); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) {
				return &ConcurrencyConflictError{Entity: "session", ID: id}
			}
			return mapStoreError("complete session", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *ScheduleService) expand(rule recurrence.Rule) ([]recurrence.Occurrence, error) {
	occurrences, err := s.recurrence.Occurrences(rule)
	if err != nil {
		return nil, mapRuleError(err)
	}
	return occurrences, nil
}

// detect compares the occurrences with the scheduled sessions sharing the
// course's location or instructor. ids, when given, become the candidates'
// session ids so that collisions inside the batch name the earlier session.
func (s *ScheduleService) detect(ctx context.Context, course Course, occurrences []recurrence.Occurrence, ids []string) (ConflictReport, error) {
	candidates := make([]scheduler.Slot, 0, len(occurrences))
	for i, occ := range occurrences {
		slot := scheduler.Slot{
			LocationID:   course.LocationID,
			InstructorID: course.InstructorID,
			Date:         occ.Date,
			Start:        occ.Start,
			End:          occ.End,
		}
		if i < len(ids) {
			slot.SessionID = ids[i]
		}
		candidates = append(candidates, slot)
	}

	existing, err := s.existingSlots(ctx, course, occurrences)
	if err != nil {
		return ConflictReport{}, err
	}
	return toConflictReport(s.detector.Detect(candidates, existing)), nil
}

func (s *ScheduleService) existingSlots(ctx context.Context, course Course, occurrences []recurrence.Occurrence) ([]scheduler.Slot, error) {
	if len(occurrences) == 0 {
		return nil, nil
	}
	from := occurrences[0].Date.Format(recurrence.DateLayout)
	to := occurrences[len(occurrences)-1].Date.Format(recurrence.DateLayout)

	filters := make([]persistence.SessionFilter, 0, 2)
	if course.LocationID != "" {
		filters = append(filters, persistence.SessionFilter{
			LocationID: course.LocationID,
			Statuses:   []string{string(SessionScheduled)},
			DateFrom:   from,
			DateTo:     to,
		})
	}
	if course.InstructorID != "" {
		filters = append(filters, persistence.SessionFilter{
			InstructorID: course.InstructorID,
			Statuses:     []string{string(SessionScheduled)},
			DateFrom:     from,
			DateTo:       to,
		})
	}

	seen := make(map[string]struct{})
	slots := make([]scheduler.Slot, 0)
	for _, filter := range filters {
		recs, err := s.store.ListSessions(ctx, filter)
		if err != nil {
			return nil, mapStoreError("list sessions", err)
		}
		for _, rec := range recs {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			session, err := sessionFromRecord(s.recurrence, rec)
			if err != nil {
				return nil, err
			}
			slots = append(slots, session.slot())
		}
	}
	return slots, nil
}

// parseRule turns caller input into a validated rule. Every failure names the
// offending field.
func (s *ScheduleService) parseRule(input RuleInput) (recurrence.Rule, error) {
	kind := recurrence.Kind(strings.ToLower(strings.TrimSpace(input.Kind)))
	if !kind.Valid() {
		return recurrence.Rule{}, &InvalidRuleError{Field: "kind", Err: recurrence.ErrUnknownKind}
	}
	rule := recurrence.Rule{Kind: kind, Weekdays: append([]int(nil), input.Weekdays...), Interval: input.Interval}

	var err error
	if rule.StartDate, err = s.parseDate("start_date", input.StartDate, true); err != nil {
		return recurrence.Rule{}, err
	}
	if rule.EndDate, err = s.parseDate("end_date", input.EndDate, kind != recurrence.KindOnce); err != nil {
		return recurrence.Rule{}, err
	}
	if rule.StartTime, err = parseTime("start_time", input.StartTime); err != nil {
		return recurrence.Rule{}, err
	}
	if rule.EndTime, err = parseTime("end_time", input.EndTime); err != nil {
		return recurrence.Rule{}, err
	}
	if err := s.recurrence.Validate(rule); err != nil {
		return recurrence.Rule{}, mapRuleError(err)
	}
	return rule, nil
}

func (s *ScheduleService) parseDate(field, value string, required bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return time.Time{}, &InvalidRuleError{Field: field, Err: recurrence.ErrMissingDate}
		}
		return time.Time{}, nil
	}
	parsed, err := s.recurrence.ParseDate(value)
	if err != nil {
		return time.Time{}, &InvalidRuleError{Field: field, Err: fmt.Errorf("expected YYYY-MM-DD: %q", value)}
	}
	return parsed, nil
}

func parseTime(field, value string) (recurrence.TimeOfDay, error) {
	parsed, err := recurrence.ParseTimeOfDay(strings.TrimSpace(value))
	if err != nil {
		return 0, &InvalidRuleError{Field: field, Err: err}
	}
	return parsed, nil
}

func mapRuleError(err error) error {
	var ruleErr *recurrence.RuleError
	if errors.As(err, &ruleErr) {
		return &InvalidRuleError{Field: ruleErr.Field, Err: ruleErr.Err}
	}
	return err
}
