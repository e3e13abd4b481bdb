package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/training-booking/internal/application"
)

type bookingService interface {
	Reserve(ctx context.Context, params application.ReserveParams) (application.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (application.Booking, error)
	ListBookings(ctx context.Context, filter application.BookingFilter) ([]application.Booking, error)
	CancelBooking(ctx context.Context, bookingID string) (application.Booking, error)
}

type checkoutService interface {
	InitiateCheckout(ctx context.Context, bookingID string) (application.Checkout, error)
}

type BookingHandler struct {
	service   bookingService
	checkout  checkoutService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, checkout checkoutService, logger *slog.Logger) *BookingHandler {
	base := defaultLogger(logger)
	return &BookingHandler{service: service, checkout: checkout, responder: newResponder(base), logger: base}
}

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "BookingHandler", operation, attrs...)
}

func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	courseID := pathParam(r, "courseID")
	var req reserveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.log(r.Context(), "Reserve", "course_id", courseID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode reserve request", "error", err)
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

	booking, err := h.service.Reserve(r.Context(), req.toParams(courseID))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toBookingDTO(booking))
}

func (h *BookingHandler) ListByCourse(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, application.BookingFilter{CourseID: pathParam(r, "courseID")})
}

func (h *BookingHandler) ListByStudent(w http.ResponseWriter, r *http.Request) {
	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if studentID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingStudentID)
		return
	}
	h.list(w, r, application.BookingFilter{StudentID: studentID})
}

func (h *BookingHandler) list(w http.ResponseWriter, r *http.Request, filter application.BookingFilter) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), filter)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]bookingDTO, 0, len(bookings))
	for _, booking := range bookings {
		out = append(out, toBookingDTO(booking))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listBookingsResponse{Bookings: out})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	booking, err := h.service.GetBooking(r.Context(), pathParam(r, "bookingID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

// Cancel withdraws an unpaid booking and releases its seats.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	booking, err := h.service.CancelBooking(r.Context(), pathParam(r, "bookingID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

// Checkout opens (or returns the already opened) hosted checkout.
func (h *BookingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.checkout == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID := pathParam(r, "bookingID")
	if bookingID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	checkout, err := h.checkout.InitiateCheckout(r.Context(), bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, checkoutDTO{
		BookingID:         bookingID,
		CheckoutSessionID: checkout.SessionID,
		CheckoutURL:       checkout.URL,
		Provider:          checkout.Provider,
	})
}

type studentRequest struct {
	ID    string `json:"id" validate:"max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"max=32"`
}

type reserveRequest struct {
	SessionIDs []string       `json:"session_ids" validate:"required,min=1,dive,required"`
	Student    studentRequest `json:"student"`
	Message    string         `json:"message" validate:"max=2000"`
}

func (r reserveRequest) toParams(courseID string) application.ReserveParams {
	ids := make([]string, 0, len(r.SessionIDs))
	for _, id := range r.SessionIDs {
		ids = append(ids, strings.TrimSpace(id))
	}
	return application.ReserveParams{
		CourseID:   courseID,
		SessionIDs: ids,
		Student: application.Student{
			ID:    strings.TrimSpace(r.Student.ID),
			Name:  r.Student.Name,
			Email: strings.TrimSpace(r.Student.Email),
			Phone: strings.TrimSpace(r.Student.Phone),
		},
		Message: r.Message,
	}
}

type bookingDTO struct {
	ID                string   `json:"id"`
	CourseID          string   `json:"course_id"`
	StudentID         string   `json:"student_id,omitempty"`
	SessionIDs        []string `json:"session_ids"`
	StudentName       string   `json:"student_name"`
	StudentEmail      string   `json:"student_email"`
	StudentPhone      string   `json:"student_phone,omitempty"`
	Message           string   `json:"message,omitempty"`
	Status            string   `json:"status"`
	PaymentStatus     string   `json:"payment_status"`
	State             string   `json:"state"`
	CheckoutSessionID string   `json:"checkout_session_id,omitempty"`
	CheckoutURL       string   `json:"checkout_url,omitempty"`
	AmountDue         int64    `json:"amount_due"`
	PricePerSession   int64    `json:"price_per_session"`
	Currency          string   `json:"currency"`
	AmountPaid        *int64   `json:"amount_paid,omitempty"`
	HoldExpiresAt     string   `json:"hold_expires_at"`
	BookingDate       string   `json:"booking_date"`
	PaidAt            *string  `json:"paid_at,omitempty"`
	ClosedAt          *string  `json:"closed_at,omitempty"`
	Version           int64    `json:"version"`
}

func toBookingDTO(booking application.Booking) bookingDTO {
	return bookingDTO{
		ID:                booking.ID,
		CourseID:          booking.CourseID,
		StudentID:         booking.StudentID,
		SessionIDs:        append([]string(nil), booking.SessionIDs...),
		StudentName:       booking.StudentName,
		StudentEmail:      booking.StudentEmail,
		StudentPhone:      booking.StudentPhone,
		Message:           booking.Message,
		Status:            string(booking.Status),
		PaymentStatus:     string(booking.PaymentStatus),
		State:             string(booking.State),
		CheckoutSessionID: booking.CheckoutSessionID,
		CheckoutURL:       booking.CheckoutURL,
		AmountDue:         booking.AmountDue,
		PricePerSession:   booking.PricePerSession,
		Currency:          booking.Currency,
		AmountPaid:        booking.AmountPaid,
		HoldExpiresAt:     booking.HoldExpiresAt.UTC().Format(time.RFC3339Nano),
		BookingDate:       booking.BookingDate.UTC().Format(time.RFC3339Nano),
		PaidAt:            formatOptionalTime(booking.PaidAt),
		ClosedAt:          formatOptionalTime(booking.ClosedAt),
		Version:           booking.Version,
	}
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

type listBookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type checkoutDTO struct {
	BookingID         string `json:"booking_id"`
	CheckoutSessionID string `json:"checkout_session_id"`
	CheckoutURL       string `json:"checkout_url"`
	Provider          string `json:"provider"`
}
