package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/training-booking/internal/application"
)

type courseService interface {
	UpsertCourse(ctx context.Context, courseID string, input application.CourseInput) (application.Course, error)
	GetCourse(ctx context.Context, courseID string) (application.Course, error)
	ListCourses(ctx context.Context) ([]application.Course, error)
	RemoveCourse(ctx context.Context, courseID string) (int, error)
}

type CourseHandler struct {
	service   courseService
	responder responder
	logger    *slog.Logger
}

func NewCourseHandler(service courseService, logger *slog.Logger) *CourseHandler {
	base := defaultLogger(logger)
	return &CourseHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *CourseHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "CourseHandler", operation, attrs...)
}

func (h *CourseHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	courseID := pathParam(r, "courseID")
	if courseID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidCourseID)
		return
	}

	var req courseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.log(r.Context(), "Upsert", "course_id", courseID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode course request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	req.normalize()
	if fields := validateRequest(req); fields != nil {
		h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:    fields,
		})
		return
	}

	course, err := h.service.UpsertCourse(r.Context(), courseID, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCourseDTO(course))
}

func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	course, err := h.service.GetCourse(r.Context(), pathParam(r, "courseID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCourseDTO(course))
}

func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]courseDTO, 0, len(courses))
	for _, course := range courses {
		out = append(out, toCourseDTO(course))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listCoursesResponse{Courses: out})
}

// Remove soft deletes the course and cancels its scheduled sessions.
func (h *CourseHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	courseID := pathParam(r, "courseID")
	cancelled, err := h.service.RemoveCourse(r.Context(), courseID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Remove", "course_id", courseID).InfoContext(r.Context(), "course removed", "sessions_cancelled", cancelled)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, cancelledResponse{Cancelled: cancelled})
}

type courseRequest struct {
	SchoolID         string `json:"school_id" validate:"max=64"`
	Title            string `json:"title" validate:"required,max=200"`
	LocationID       string `json:"location_id" validate:"required,max=64"`
	InstructorID     string `json:"instructor_id" validate:"required,max=64"`
	Capacity         int    `json:"capacity" validate:"gte=0"`
	LocationCapacity int    `json:"location_capacity" validate:"gte=0"`
	Price            int64  `json:"price" validate:"gte=0"`
	Currency         string `json:"currency" validate:"omitempty,iso4217"`
}

// normalize trims identifiers and upper-cases the currency so iso4217 sees
// the canonical code.
func (r *courseRequest) normalize() {
	r.SchoolID = strings.TrimSpace(r.SchoolID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r courseRequest) toInput() application.CourseInput {
	return application.CourseInput{
		SchoolID:         strings.TrimSpace(r.SchoolID),
		Title:            r.Title,
		LocationID:       r.LocationID,
		InstructorID:     r.InstructorID,
		Capacity:         r.Capacity,
		LocationCapacity: r.LocationCapacity,
		Price:            r.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(r.Currency)),
	}
}

type courseDTO struct {
	ID               string `json:"id"`
	SchoolID         string `json:"school_id,omitempty"`
	Title            string `json:"title"`
	LocationID       string `json:"location_id"`
	InstructorID     string `json:"instructor_id"`
	Capacity         int    `json:"capacity"`
	LocationCapacity int    `json:"location_capacity,omitempty"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toCourseDTO(course application.Course) courseDTO {
	return courseDTO{
		ID:               course.ID,
		SchoolID:         course.SchoolID,
		Title:            course.Title,
		LocationID:       course.LocationID,
		InstructorID:     course.InstructorID,
		Capacity:         course.Capacity,
		LocationCapacity: course.LocationCapacity,
		Price:            course.Price,
		Currency:         course.Currency,
		CreatedAt:        course.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:        course.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type listCoursesResponse struct {
	Courses []courseDTO `json:"courses"`
}

type cancelledResponse struct {
	Cancelled int `json:"cancelled"`
}
