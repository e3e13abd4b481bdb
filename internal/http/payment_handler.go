package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/training-booking/internal/application"
	"github.com/example/training-booking/internal/payment"
)

type reconciliationService interface {
	OnPaymentConfirmed(ctx context.Context, checkoutSessionID string, amountPaid int64) (application.Booking, error)
	OnPaymentFailed(ctx context.Context, checkoutSessionID string) (application.Booking, error)
	PaymentStatus(ctx context.Context, checkoutSessionID string) (application.PaymentTransaction, error)
}

type PaymentHandler struct {
	service   reconciliationService
	serverKey string
	responder responder
	logger    *slog.Logger
}

// NewPaymentHandler builds the callback handler. serverKey verifies Midtrans
// notifications; an empty key disables the Midtrans webhook.
func NewPaymentHandler(service reconciliationService, serverKey string, logger *slog.Logger) *PaymentHandler {
	base := defaultLogger(logger)
	return &PaymentHandler{service: service, serverKey: serverKey, responder: newResponder(base), logger: base}
}

func (h *PaymentHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "PaymentHandler", operation, attrs...)
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tx, err := h.service.PaymentStatus(r.Context(), pathParam(r, "checkoutSessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTransactionDTO(tx))
}

func (h *PaymentHandler) Confirmed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req confirmedCallback
	if !h.decodeCallback(w, r, &req) {
		return
	}
	booking, err := h.service.OnPaymentConfirmed(r.Context(), strings.TrimSpace(req.CheckoutSessionID), req.AmountPaid)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

func (h *PaymentHandler) Failed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req failedCallback
	if !h.decodeCallback(w, r, &req) {
		return
	}
	booking, err := h.service.OnPaymentFailed(r.Context(), strings.TrimSpace(req.CheckoutSessionID))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBookingDTO(booking))
}

// Midtrans handles Snap HTTP notifications. The order id is the checkout
// session id. Pending notifications are acknowledged without a transition.
func (h *PaymentHandler) Midtrans(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if h.serverKey == "" {
		h.responder.writeError(r.Context(), w, http.StatusNotFound, errWebhookDisabled)
		return
	}

	var note payment.Notification
	if err := decodeJSON(r, &note, false); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "Midtrans", "order_id", note.OrderID, "transaction_status", note.TransactionStatus)
	if err := note.Verify(h.serverKey); err != nil {
		logger.WarnContext(r.Context(), "rejected notification", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errInvalidSignature)
		return
	}

	outcome := note.Outcome()
	var err error
	switch outcome {
	case payment.OutcomeConfirmed:
		amount, parseErr := note.Amount()
		if parseErr != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		_, err = h.service.OnPaymentConfirmed(r.Context(), note.OrderID, amount)
	case payment.OutcomeFailed:
		_, err = h.service.OnPaymentFailed(r.Context(), note.OrderID)
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	logger.InfoContext(r.Context(), "notification processed", "outcome", outcome.String())
	h.responder.writeJSON(r.Context(), w, http.StatusOK, webhookAck{Status: "ok", Outcome: outcome.String()})
}

func (h *PaymentHandler) decodeCallback(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst, false); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return false
	}
	if fields := validateRequest(dst); fields != nil {
		h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:    fields,
		})
		return false
	}
	return true
}

type confirmedCallback struct {
	CheckoutSessionID string `json:"checkout_session_id" validate:"required"`
	AmountPaid        int64  `json:"amount_paid" validate:"gte=0"`
}

type failedCallback struct {
	CheckoutSessionID string `json:"checkout_session_id" validate:"required"`
	Reason            string `json:"reason" validate:"max=500"`
}

type webhookAck struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

type transactionDTO struct {
	ID                string  `json:"id"`
	BookingID         string  `json:"booking_id"`
	CheckoutSessionID string  `json:"checkout_session_id"`
	Provider          string  `json:"provider"`
	Amount            int64   `json:"amount"`
	Currency          string  `json:"currency"`
	Status            string  `json:"status"`
	PaidAt            *string `json:"paid_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func toTransactionDTO(tx application.PaymentTransaction) transactionDTO {
	return transactionDTO{
		ID:                tx.ID,
		BookingID:         tx.BookingID,
		CheckoutSessionID: tx.CheckoutSessionID,
		Provider:          tx.Provider,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Status:            string(tx.Status),
		PaidAt:            formatOptionalTime(tx.PaidAt),
		CreatedAt:         tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         tx.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
