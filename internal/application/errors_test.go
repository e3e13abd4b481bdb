package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/training-booking/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	cases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "invalid rule", err: &InvalidRuleError{Field: "kind", Err: cause}, target: ErrInvalidRule},
		{name: "course", err: &CourseNotFoundError{CourseID: "c"}, target: ErrCourseNotFound},
		{name: "course is not found", err: &CourseNotFoundError{CourseID: "c"}, target: ErrNotFound},
		{name: "full", err: &SessionFullError{SessionID: "s"}, target: ErrSessionFull},
		{name: "not scheduled", err: &SessionNotScheduledError{SessionID: "s", Status: SessionCancelled}, target: ErrSessionNotScheduled},
		{name: "checkout", err: &UnknownCheckoutSessionError{CheckoutSessionID: "x"}, target: ErrUnknownCheckoutSession},
		{name: "conflict", err: &ConcurrencyConflictError{Entity: "session", ID: "s"}, target: ErrConcurrencyConflict},
		{name: "transient", err: &TransientStoreError{Op: "get", Err: cause}, target: ErrTransientStore},
		{name: "transition", err: &InvalidTransitionError{BookingID: "b", From: StatePaid, Event: "withdraw"}, target: ErrInvalidTransition},
		{name: "schedule conflict", err: &ScheduleConflictError{}, target: ErrScheduleConflict},
		{name: "gateway", err: &GatewayError{Provider: "fake", Err: cause}, target: ErrGateway},
		{name: "wrapped", err: fmt.Errorf("reserve: %w", &SessionFullError{SessionID: "s"}), target: ErrSessionFull},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tc.err, tc.target) {
				t.Fatalf("errors.Is(%v, %v) = false", tc.err, tc.target)
			}
		})
	}

	if !errors.Is(&GatewayError{Provider: "fake", Err: cause}, cause) {
		t.Fatalf("GatewayError should unwrap to its cause")
	}
	if errors.Is(&SessionFullError{SessionID: "s"}, ErrNotFound) {
		t.Fatalf("SessionFullError must not match ErrNotFound")
	}
}

func TestMapStoreError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "not found", err: persistence.ErrNotFound, target: ErrNotFound},
		{name: "duplicate", err: persistence.ErrDuplicate, target: ErrAlreadyExists},
		{name: "version", err: persistence.ErrVersionConflict, target: ErrConcurrencyConflict},
		{name: "transient", err: persistence.ErrTransient, target: ErrTransientStore},
		{name: "claim full", err: &persistence.ClaimError{SessionID: "s", Err: persistence.ErrCapacityExceeded}, target: ErrSessionFull},
		{name: "claim cancelled", err: &persistence.ClaimError{SessionID: "s", Err: persistence.ErrNotScheduled}, target: ErrSessionNotScheduled},
		{name: "claim version", err: &persistence.ClaimError{SessionID: "s", Err: persistence.ErrVersionConflict}, target: ErrConcurrencyConflict},
		{name: "claim missing", err: &persistence.ClaimError{SessionID: "s", Err: persistence.ErrNotFound}, target: ErrNotFound},
		{name: "context", err: context.DeadlineExceeded, target: context.DeadlineExceeded},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapStoreError("op", tc.err); !errors.Is(got, tc.target) {
				t.Fatalf("mapStoreError(%v) = %v, want match for %v", tc.err, got, tc.target)
			}
		})
	}

	var vErr *ValidationError
	if !errors.As(mapStoreError("op", persistence.ErrConstraintViolation), &vErr) {
		t.Fatalf("constraint violations should become ValidationError")
	}
	if mapStoreError("op", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}
