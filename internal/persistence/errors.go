package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a record with the same identity already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record breaks a storage constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrVersionConflict is returned when an optimistic version check fails.
	ErrVersionConflict = errors.New("persistence: version conflict")
	// ErrCapacityExceeded is returned when a session has no remaining seats.
	ErrCapacityExceeded = errors.New("persistence: capacity exceeded")
	// ErrNotScheduled is returned when a session is no longer bookable.
	ErrNotScheduled = errors.New("persistence: session not scheduled")
	// ErrTransient is returned for contention the caller may retry (locked or busy database).
	ErrTransient = errors.New("persistence: transient failure")
)

// ClaimError names the session whose claim failed during ReserveBooking.
type ClaimError struct {
	SessionID string
	Err       error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim session %s: %v", e.SessionID, e.Err)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}
