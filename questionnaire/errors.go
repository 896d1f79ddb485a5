package questionnaire

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the storage, cache, and fallback layers.
// Callers must be able to tell a permanent absence (ErrNotFound) apart
// from a degraded outage where no tier had data (ErrUnavailable).
var (
	// ErrNotFound means the entity does not exist in the primary store
	// (or, while degraded, in any fallback tier that answered).
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the primary store is down and every fallback
	// tier either failed or had no data. Retryable, unlike ErrNotFound.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrNoRuleMatched means no active rule for the flow matched the
	// request context. Callers return an empty result, not an error.
	ErrNoRuleMatched = errors.New("no rule matched")
)

// ValidationError rejects a write before any persistence attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
