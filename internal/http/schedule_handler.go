package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/training-booking/internal/application"
	"github.com/example/training-booking/internal/recurrence"
)

type scheduleService interface {
	ValidateSchedule(ctx context.Context, courseID string, input application.RuleInput) (application.ConflictReport, error)
	CreateSchedule(ctx context.Context, courseID string, input application.RuleInput) (application.CommitResult, error)
	ListSchedules(ctx context.Context, courseID string) ([]application.Schedule, error)
	CancelSchedule(ctx context.Context, scheduleID string) (int, error)
	GetSession(ctx context.Context, sessionID string) (application.Session, error)
	ListSessions(ctx context.Context, courseID string, status application.SessionStatus) ([]application.Session, error)
	CancelSession(ctx context.Context, sessionID string) (application.Session, error)
}

type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	base := defaultLogger(logger)
	return &ScheduleHandler{service: service, responder: newResponder(base), logger: base}
}

// Validate reports conflicts for a proposed rule without persisting anything.
func (h *ScheduleHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req ruleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	report, err := h.service.ValidateSchedule(r.Context(), pathParam(r, "courseID"), req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toConflictReportDTO(report))
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req ruleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.CreateSchedule(r.Context(), pathParam(r, "courseID"), req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createScheduleResponse{
		Schedule:        toScheduleDTO(result.Schedule),
		SessionsCreated: result.SessionsCreated,
		SessionIDs:      result.SessionIDs,
		Report:          toConflictReportDTO(result.Report),
	})
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	schedules, err := h.service.ListSchedules(r.Context(), pathParam(r, "courseID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]scheduleDTO, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, toScheduleDTO(schedule))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSchedulesResponse{Schedules: out})
}

// Cancel cancels every scheduled session the schedule produced.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	cancelled, err := h.service.CancelSchedule(r.Context(), pathParam(r, "scheduleID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, cancelledResponse{Cancelled: cancelled})
}

func (h *ScheduleHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := application.SessionStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	sessions, err := h.service.ListSessions(r.Context(), pathParam(r, "courseID"), status)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionDTO(session))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSessionsResponse{Sessions: out})
}

func (h *ScheduleHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	session, err := h.service.GetSession(r.Context(), pathParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

func (h *ScheduleHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	session, err := h.service.CancelSession(r.Context(), pathParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

// ruleRequest carries the raw rule; the recurrence engine owns its validation.
type ruleRequest struct {
	Kind      string `json:"kind"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Weekdays  []int  `json:"weekdays"`
	Interval  int    `json:"interval"`
}

func (r ruleRequest) toInput() application.RuleInput {
	return application.RuleInput{
		Kind:      strings.ToLower(strings.TrimSpace(r.Kind)),
		StartDate: strings.TrimSpace(r.StartDate),
		EndDate:   strings.TrimSpace(r.EndDate),
		StartTime: strings.TrimSpace(r.StartTime),
		EndTime:   strings.TrimSpace(r.EndTime),
		Weekdays:  append([]int(nil), r.Weekdays...),
		Interval:  r.Interval,
	}
}

type ruleDTO struct {
	Kind      string `json:"kind"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Weekdays  []int  `json:"weekdays,omitempty"`
	Interval  int    `json:"interval,omitempty"`
}

func toRuleDTO(rule recurrence.Rule) ruleDTO {
	return ruleDTO{
		Kind:      string(rule.Kind),
		StartDate: formatDate(rule.StartDate),
		EndDate:   formatDate(rule.EndDate),
		StartTime: rule.StartTime.String(),
		EndTime:   rule.EndTime.String(),
		Weekdays:  append([]int(nil), rule.Weekdays...),
		Interval:  rule.Interval,
	}
}

type scheduleDTO struct {
	ID           string  `json:"id"`
	CourseID     string  `json:"course_id"`
	Rule         ruleDTO `json:"rule"`
	SessionCount int     `json:"session_count"`
	CreatedAt    string  `json:"created_at"`
}

func toScheduleDTO(schedule application.Schedule) scheduleDTO {
	return scheduleDTO{
		ID:           schedule.ID,
		CourseID:     schedule.CourseID,
		Rule:         toRuleDTO(schedule.Rule),
		SessionCount: schedule.SessionCount,
		CreatedAt:    schedule.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type createScheduleResponse struct {
	Schedule        scheduleDTO       `json:"schedule"`
	SessionsCreated int               `json:"sessions_created"`
	SessionIDs      []string          `json:"session_ids"`
	Report          conflictReportDTO `json:"report"`
}

type listSchedulesResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}

type sessionDTO struct {
	ID                string `json:"id"`
	CourseID          string `json:"course_id"`
	ScheduleID        string `json:"schedule_id,omitempty"`
	LocationID        string `json:"location_id"`
	InstructorID      string `json:"instructor_id"`
	Date              string `json:"date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	MaxCapacity       int    `json:"max_capacity"`
	CurrentEnrollment int    `json:"current_enrollment"`
	Remaining         int    `json:"remaining"`
	Status            string `json:"status"`
	Version           int64  `json:"version"`
}

func toSessionDTO(session application.Session) sessionDTO {
	return sessionDTO{
		ID:                session.ID,
		CourseID:          session.CourseID,
		ScheduleID:        session.ScheduleID,
		LocationID:        session.LocationID,
		InstructorID:      session.InstructorID,
		Date:              formatDate(session.Date),
		StartTime:         session.StartTime.String(),
		EndTime:           session.EndTime.String(),
		MaxCapacity:       session.MaxCapacity,
		CurrentEnrollment: session.CurrentEnrollment,
		Remaining:         session.Remaining(),
		Status:            string(session.Status),
		Version:           session.Version,
	}
}

type listSessionsResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

type conflictEntryDTO struct {
	SessionID string `json:"session_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type conflictReportDTO struct {
	HasConflict         bool               `json:"has_conflict"`
	LocationConflicts   []conflictEntryDTO `json:"location_conflicts"`
	InstructorConflicts []conflictEntryDTO `json:"instructor_conflicts"`
}

func toConflictReportDTO(report application.ConflictReport) conflictReportDTO {
	return conflictReportDTO{
		HasConflict:         report.HasConflict,
		LocationConflicts:   toConflictEntryDTOs(report.LocationConflicts),
		InstructorConflicts: toConflictEntryDTOs(report.InstructorConflicts),
	}
}

func toConflictEntryDTOs(entries []application.ConflictEntry) []conflictEntryDTO {
	out := make([]conflictEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, conflictEntryDTO{
			SessionID: entry.SessionID,
			Date:      formatDate(entry.Date),
			StartTime: entry.StartTime.String(),
			EndTime:   entry.EndTime.String(),
		})
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(recurrence.DateLayout)
}
