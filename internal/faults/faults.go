// Package faults defines the error kinds shared across the engine.
// Every failure is attributable: validation errors name the offending
// field, resolution errors name the upstream source.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError reports an invalid input value. It is returned
// synchronously and never auto-corrected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for a field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResolutionError reports that the recipient directory (or a segment
// lookup) was unavailable. It is distinct from a legitimate
// zero-eligible result, which is not an error at all.
type ResolutionError struct {
	Source string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("audience resolution failed (%s): %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolution wraps an upstream failure with its source name.
func Resolution(source string, err error) error {
	return &ResolutionError{Source: source, Err: err}
}

// IsResolution reports whether err is (or wraps) a ResolutionError.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
