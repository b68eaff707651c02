/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR TAXONOMY:
  1. ConfigurationError - missing/ambiguous tax table, missing payroll detail.
     Fatal for the affected employee only; pay runs report it per item.
  2. ValidationError - bad input (amount above eligibility, bad installment
     count). Rejected before any state is touched.
  3. StateTransitionError - action not allowed from the current status.
     Rejected with no partial effect.
  4. Consistency shortfall - deductions would exceed gross pay. Never an
     error: the payslip is capped and carries a warning instead.

USAGE:
  if errors.Is(err, generic.ErrInvalidTransition) {
      // 409 Conflict
  }

  var cfgErr *generic.ConfigurationError
  if errors.As(err, &cfgErr) {
      item.ErrorMessage = cfgErr.Error()
  }

SEE ALSO:
  - transition.go: Produces StateTransitionError
  - api/handlers.go: Maps these to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced aggregate doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrConfiguration is the parent of every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is the parent of every ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition is the parent of every StateTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports data that makes a computation impossible.
type ConfigurationError struct {
	Subject string // e.g. "employee emp-1"
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Subject == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Subject, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ValidationError reports invalid input at the API boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateTransitionError reports an action that the current status forbids.
type StateTransitionError struct {
	Aggregate string
	ID        string
	From      string
	Action    string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q", e.Aggregate, e.ID, e.Action, e.From)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
