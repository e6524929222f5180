// Package apperr defines the error kinds shared by the registry, the planners
// and the API gateway.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a required entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a node would be bound twice or a state
	// transition is not allowed from the current state.
	ErrConflict = errors.New("conflict")

	// ErrThrottleExceeded is returned when a user has too many running or
	// debugging jobs.
	ErrThrottleExceeded = errors.New("throttle exceeded")

	// ErrValidation is returned before any mutation for malformed input.
	ErrValidation = errors.New("validation error")

	// ErrTransient marks a failed call to an external collaborator
	// (notifier, uninstall executor, pod teardown). The guarded effect is
	// retried by the next monitor tick.
	ErrTransient = errors.New("transient dependency failure")

	// ErrAlreadyExpired is returned when renewing a lapsed debug session
	// without force.
	ErrAlreadyExpired = errors.New("debug session already expired")

	// ErrForbidden is returned when the caller does not own the job.
	ErrForbidden = errors.New("forbidden")
)

// Validation wraps ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the entity type and key.
func NotFound(entity, key string) error {
	return fmt.Errorf("%s %q: %w", entity, key, ErrNotFound)
}

// Conflict wraps ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Transient wraps err as a TransientDependencyFailure.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// TransientError records which external call failed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is reports ErrTransient so callers can classify without errors.As.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// ThrottleError carries the remaining capacity so the caller can back off.
type ThrottleError struct {
	User    string
	OpCount int
	Limit   int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("user %s has %d running or debugging jobs, limit is %d", e.User, e.OpCount, e.Limit)
}

// Is reports ErrThrottleExceeded.
func (e *ThrottleError) Is(target error) bool { return target == ErrThrottleExceeded }

// Remaining is the capacity left before the limit, never negative.
func (e *ThrottleError) Remaining() int {
	if r := e.Limit - e.OpCount; r > 0 {
		return r
	}
	return 0
}
