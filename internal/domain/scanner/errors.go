package scanner

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by every validation failure. Callers test for it
// with errors.Is to tell bad input apart from internal faults.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports input rejected before any scan work was done.
type ValidationError struct {
	Field  string // offending input, e.g. "patterns[2]" or "fuzzy_threshold"
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
