package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/training-booking/internal/application"
)

func TestResponder_HandleServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: &application.ValidationError{FieldErrors: map[string]string{"title": "title is required"}}, status: http.StatusUnprocessableEntity, code: codeValidation},
		{name: "invalid rule", err: &application.InvalidRuleError{Field: "interval"}, status: http.StatusUnprocessableEntity, code: codeInvalidRule},
		{name: "course not found", err: &application.CourseNotFoundError{CourseID: "c"}, status: http.StatusNotFound, code: codeCourseNotFound},
		{name: "unknown checkout", err: &application.UnknownCheckoutSessionError{CheckoutSessionID: "x"}, status: http.StatusNotFound, code: codeUnknownCheckout},
		{name: "not found", err: application.ErrNotFound, status: http.StatusNotFound, code: codeNotFound},
		{name: "session full", err: &application.SessionFullError{SessionID: "s"}, status: http.StatusConflict, code: codeSessionFull},
		{name: "not scheduled", err: &application.SessionNotScheduledError{SessionID: "s"}, status: http.StatusConflict, code: codeNotScheduled},
		{name: "invalid transition", err: &application.InvalidTransitionError{BookingID: "b", Event: "checkout"}, status: http.StatusConflict, code: codeInvalidTransition},
		{name: "strict conflict", err: &application.ScheduleConflictError{}, status: http.StatusConflict, code: codeScheduleConflict},
		{name: "gateway", err: &application.GatewayError{Provider: "midtrans", Err: errors.New("timeout")}, status: http.StatusBadGateway, code: codeGateway},
		{name: "transient store", err: &application.TransientStoreError{Op: "reserve", Err: errors.New("busy")}, status: http.StatusServiceUnavailable, code: codeStoreUnavailable},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: codeInternal},
	}

	r := newResponder(discardLogger())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			r.handleServiceError(context.Background(), rec, tt.err)
			expectStatus(t, rec, tt.status)
			body := decodeBody[errorResponse](t, rec)
			if body.ErrorCode != tt.code {
				t.Fatalf("error_code = %q, want %q", body.ErrorCode, tt.code)
			}
		})
	}
}

func TestResponder_ScheduleConflictCarriesReport(t *testing.T) {
	t.Parallel()

	report := application.ConflictReport{
		HasConflict:         true,
		InstructorConflicts: []application.ConflictEntry{{SessionID: "session-9"}},
	}
	rec := httptest.NewRecorder()
	newResponder(discardLogger()).handleServiceError(context.Background(), rec, &application.ScheduleConflictError{Report: report})

	body := decodeBody[errorResponse](t, rec)
	if body.Conflicts == nil || len(body.Conflicts.InstructorConflicts) != 1 || body.Conflicts.InstructorConflicts[0].SessionID != "session-9" {
		t.Fatalf("unexpected conflicts %+v", body.Conflicts)
	}
}

func TestTranslateValidationMessage(t *testing.T) {
	t.Parallel()

	if got := translateValidationMessage("student email is invalid"); got != "メールアドレスの形式が不正です。" {
		t.Fatalf("unexpected translation %q", got)
	}
	if got := translateValidationMessage("session s-1 does not belong to course c-1"); got != "選択されたセッションはこのコースに属していません: s-1" {
		t.Fatalf("unexpected translation %q", got)
	}
	if got := translateValidationMessage("something else"); got != "something else" {
		t.Fatalf("unknown messages should pass through, got %q", got)
	}
}
