package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/training-booking/internal/application"
)

type waitlistService interface {
	JoinWaitlist(ctx context.Context, params application.JoinWaitlistParams) (application.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, courseID string) ([]application.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, entryID, studentID string) error
}

type WaitlistHandler struct {
	service   waitlistService
	responder responder
	logger    *slog.Logger
}

func NewWaitlistHandler(service waitlistService, logger *slog.Logger) *WaitlistHandler {
	base := defaultLogger(logger)
	return &WaitlistHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *WaitlistHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "WaitlistHandler", operation, attrs...)
}

// Join queues a student for a seat on a full course or one of its sessions.
func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	courseID := pathParam(r, "courseID")
	var req joinWaitlistRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.log(r.Context(), "Join", "course_id", courseID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode waitlist request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if fields := validateRequest(req); fields != nil {
		h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:    fields,
		})
		return
	}

	entry, err := h.service.JoinWaitlist(r.Context(), req.toParams(courseID))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toWaitlistDTO(entry))
}

func (h *WaitlistHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	entries, err := h.service.ListWaitlist(r.Context(), pathParam(r, "courseID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]waitlistDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toWaitlistDTO(entry))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listWaitlistResponse{Waitlist: out})
}

// Leave removes the caller's entry. The student id must match the entry.
func (h *WaitlistHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if studentID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingStudentID)
		return
	}
	entryID := pathParam(r, "entryID")
	if err := h.service.LeaveWaitlist(r.Context(), entryID, studentID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, leftWaitlistResponse{EntryID: entryID})
}

type joinWaitlistRequest struct {
	SessionID string         `json:"session_id" validate:"max=64"`
	Student   studentRequest `json:"student"`
}

func (r joinWaitlistRequest) toParams(courseID string) application.JoinWaitlistParams {
	return application.JoinWaitlistParams{
		CourseID:  courseID,
		SessionID: strings.TrimSpace(r.SessionID),
		Student: application.Student{
			ID:    strings.TrimSpace(r.Student.ID),
			Name:  r.Student.Name,
			Email: strings.TrimSpace(r.Student.Email),
			Phone: strings.TrimSpace(r.Student.Phone),
		},
	}
}

type waitlistDTO struct {
	ID             string  `json:"id"`
	CourseID       string  `json:"course_id"`
	SessionID      string  `json:"session_id,omitempty"`
	StudentID      string  `json:"student_id"`
	StudentName    string  `json:"student_name"`
	StudentEmail   string  `json:"student_email"`
	Position       int     `json:"position"`
	Status         string  `json:"status"`
	OfferExpiresAt *string `json:"offer_expires_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	Version        int64   `json:"version"`
}

func toWaitlistDTO(entry application.WaitlistEntry) waitlistDTO {
	return waitlistDTO{
		ID:             entry.ID,
		CourseID:       entry.CourseID,
		SessionID:      entry.SessionID,
		StudentID:      entry.StudentID,
		StudentName:    entry.StudentName,
		StudentEmail:   entry.StudentEmail,
		Position:       entry.Position,
		Status:         string(entry.Status),
		OfferExpiresAt: formatOptionalTime(entry.OfferExpiresAt),
		CreatedAt:      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		Version:        entry.Version,
	}
}

type listWaitlistResponse struct {
	Waitlist []waitlistDTO `json:"waitlist"`
}

type leftWaitlistResponse struct {
	EntryID string `json:"entry_id"`
}
