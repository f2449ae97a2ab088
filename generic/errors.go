/*
errors.go - Centralized error types for the accident engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (sequence, lagging) return these errors, optionally
  wrapped with additional context via fmt.Errorf("...: %w", err).

ERROR CATEGORIES:
  1. Code errors       - Malformed accident code strings
  2. Sequence errors   - Exhausted scopes, rejected manual overrides
  3. Aggregation errors - Upstream data fetch failures
  4. Input errors      - Unknown exposure constants, bad parameters

NOT AN ERROR:
  Division by zero in rate formulas. Rates over zero working hours are
  defined as 0 and never surface as an error.

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, generic.ErrSequenceExhausted) {
        // operator must open a new sub-scope
    }

    var inv *generic.InvalidSequenceError
    if errors.As(err, &inv) {
        fmt.Println(inv.Min) // lowest acceptable value
    }

SEE ALSO:
  - sequence/allocator.go: Returns sequence errors
  - sequence/code.go: Returns MalformedCodeError
  - lagging/aggregate.go: Returns AggregationError
  - api/handlers.go: Maps these errors to HTTP status codes
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
	// ErrMalformedCode is returned when a code string does not match the
	// fixed global or site pattern. Codes are never silently coerced.
	ErrMalformedCode = errors.New("malformed accident code")

	// ErrSequenceExhausted is returned when a scope/year has issued seq 999.
	// Fatal for that scope/year until an operator opens a new sub-scope.
	ErrSequenceExhausted = errors.New("sequence exhausted")

	// ErrInvalidSequence is returned when a manual override would break range
	// or monotonicity. No state is mutated when this is returned.
	ErrInvalidSequence = errors.New("invalid sequence")

	// ErrAggregationUnavailable is returned when accident rows or working hours
	// could not be fetched. Failed builds are never cached.
	ErrAggregationUnavailable = errors.New("aggregation unavailable")

	// ErrInvalidConstant is returned for an exposure constant outside the
	// configured set.
	ErrInvalidConstant = errors.New("invalid exposure constant")

	// ErrInvalidInput is returned for malformed request parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedCodeError describes why a code string failed to parse.
type MalformedCodeError struct {
	Code   string
	Kind   CodeKind
	Reason string
}

func (e *MalformedCodeError) Error() string {
	return fmt.Sprintf("malformed %s code %q: %s", e.Kind, e.Code, e.Reason)
}

func (e *MalformedCodeError) Unwrap() error {
	return ErrMalformedCode
}

// SequenceExhaustedError names the counter that ran out of codes.
type SequenceExhaustedError struct {
	Key CounterKey
	Max int
}

func (e *SequenceExhaustedError) Error() string {
	return fmt.Sprintf("sequence exhausted for %s: no codes left above %03d", e.Key, e.Max)
}

func (e *SequenceExhaustedError) Unwrap() error {
	return ErrSequenceExhausted
}

// InvalidSequenceError reports a rejected manual override along with the
// acceptable range [Min, Max] at the time of the request.
type InvalidSequenceError struct {
	Key       CounterKey
	Requested int
	Min       int
	Max       int
	Reason    string
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("invalid sequence %d for %s: %s (allowed %d..%d)",
		e.Requested, e.Key, e.Reason, e.Min, e.Max)
}

func (e *InvalidSequenceError) Unwrap() error {
	return ErrInvalidSequence
}

// AggregationError wraps an upstream fetch failure for a summary build.
type AggregationError struct {
	Year int
	Op   string // e.g. "list accidents", "working hours"
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation unavailable for %d: %s: %v", e.Year, e.Op, e.Err)
}

// Is matches ErrAggregationUnavailable while Unwrap still exposes the cause.
func (e *AggregationError) Is(target error) bool {
	return target == ErrAggregationUnavailable
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// InvalidConstantError reports an exposure constant outside the allowed set.
type InvalidConstantError struct {
	Constant int64
	Allowed  []int64
}

func (e *InvalidConstantError) Error() string {
	return fmt.Sprintf("invalid exposure constant %d (allowed %v)", e.Constant, e.Allowed)
}

func (e *InvalidConstantError) Unwrap() error {
	return ErrInvalidConstant
}

// InputError describes a rejected request parameter.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedCode) ||
		errors.Is(err, ErrSequenceExhausted) ||
		errors.Is(err, ErrInvalidSequence) ||
		errors.Is(err, ErrInvalidConstant) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorCode returns a stable machine-readable code for API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedCode):
		return "malformed_code"
	case errors.Is(err, ErrSequenceExhausted):
		return "sequence_exhausted"
	case errors.Is(err, ErrInvalidSequence):
		return "invalid_sequence"
	case errors.Is(err, ErrInvalidConstant):
		return "invalid_constant"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAggregationUnavailable):
		return "aggregation_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
