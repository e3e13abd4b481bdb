package application

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a record with the same identity already exists.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidRule is matched by every InvalidRuleError.
	ErrInvalidRule = errors.New("application: invalid recurrence rule")
	// ErrCourseNotFound is matched by every CourseNotFoundError.
	ErrCourseNotFound = errors.New("application: course not found")
	// ErrSessionFull is matched by every SessionFullError.
	ErrSessionFull = errors.New("application: session full")
	// ErrSessionNotScheduled is matched by every SessionNotScheduledError.
	ErrSessionNotScheduled = errors.New("application: session not scheduled")
	// ErrUnknownCheckoutSession is matched by every UnknownCheckoutSessionError.
	ErrUnknownCheckoutSession = errors.New("application: unknown checkout session")
	// ErrConcurrencyConflict is matched by ConcurrencyConflictError. It never leaves the package.
	ErrConcurrencyConflict = errors.New("application: concurrency conflict")
	// ErrTransientStore is matched by every TransientStoreError.
	ErrTransientStore = errors.New("application: transient store failure")
	// ErrInvalidTransition is matched by every InvalidTransitionError.
	ErrInvalidTransition = errors.New("application: invalid booking transition")
	// ErrScheduleConflict is matched by every ScheduleConflictError.
	ErrScheduleConflict = errors.New("application: schedule conflicts with existing sessions")
	// ErrGateway is matched by every GatewayError.
	ErrGateway = errors.New("application: payment gateway failure")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// InvalidRuleError names the recurrence rule field that was rejected.
type InvalidRuleError struct {
	Field string
	Err   error
}

func (e *InvalidRuleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid recurrence rule: %s", e.Field)
	}
	return fmt.Sprintf("invalid recurrence rule: %s: %v", e.Field, e.Err)
}

func (e *InvalidRuleError) Unwrap() error { return e.Err }

func (e *InvalidRuleError) Is(target error) bool { return target == ErrInvalidRule }

// CourseNotFoundError is returned for unknown or removed courses.
type CourseNotFoundError struct {
	CourseID string
}

func (e *CourseNotFoundError) Error() string {
	return fmt.Sprintf("course %s not found", e.CourseID)
}

func (e *CourseNotFoundError) Is(target error) bool {
	return target == ErrCourseNotFound || target == ErrNotFound
}

// SessionFullError names the session that has no seat left.
type SessionFullError struct {
	SessionID string
}

func (e *SessionFullError) Error() string {
	return fmt.Sprintf("session %s is full", e.SessionID)
}

func (e *SessionFullError) Is(target error) bool { return target == ErrSessionFull }

// SessionNotScheduledError names a session that is cancelled or completed.
type SessionNotScheduledError struct {
	SessionID string
	Status    SessionStatus
}

func (e *SessionNotScheduledError) Error() string {
	return fmt.Sprintf("session %s is %s", e.SessionID, e.Status)
}

func (e *SessionNotScheduledError) Is(target error) bool { return target == ErrSessionNotScheduled }

// UnknownCheckoutSessionError is returned when a callback quotes a checkout
// session that no booking is attached to.
type UnknownCheckoutSessionError struct {
	CheckoutSessionID string
}

func (e *UnknownCheckoutSessionError) Error() string {
	return fmt.Sprintf("unknown checkout session %s", e.CheckoutSessionID)
}

func (e *UnknownCheckoutSessionError) Is(target error) bool {
	return target == ErrUnknownCheckoutSession || target == ErrNotFound
}

// ConcurrencyConflictError reports a lost optimistic version check. Services
// retry on it and never return it.
type ConcurrencyConflictError struct {
	Entity string
	ID     string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// TransientStoreError wraps a store failure the caller may retry later.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransientStore }

// InvalidTransitionError is returned when an event does not apply to the booking's state.
type InvalidTransitionError struct {
	BookingID string
	From      BookingState
	Event     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking %s: cannot apply %s in state %s", e.BookingID, e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ScheduleConflictError rejects a commit in strict mode and carries the report.
type ScheduleConflictError struct {
	Report ConflictReport
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("schedule conflicts: %d location, %d instructor",
		len(e.Report.LocationConflicts), len(e.Report.InstructorConflicts))
}

func (e *ScheduleConflictError) Is(target error) bool { return target == ErrScheduleConflict }

// GatewayError wraps a failed payment provider call.
type GatewayError struct {
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }
