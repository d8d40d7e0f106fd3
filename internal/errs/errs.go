// Package errs defines the error kinds reported by the spatial engine.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or contradictory inputs. It is never retried.
type ValidationError struct {
	Op     string // operation that rejected the input, e.g. "count_within"
	Field  string // field identifier, empty when not field-scoped
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %s", e.Op, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Validation builds a ValidationError with a formatted reason.
func Validation(op, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// InField returns a copy of e scoped to field.
func (e *ValidationError) InField(field string) *ValidationError {
	out := *e
	out.Field = field
	return &out
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MissingDependencyError reports that an optional collaborator was requested
// but is not available. Callers recover by using Fallback.
type MissingDependencyError struct {
	Dependency string
	Fallback   string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s unavailable, falling back to %s", e.Dependency, e.Fallback)
}

// DataIntegrityWarning is a non-fatal diagnostic about suspicious input data.
// Computation proceeds after it is reported.
type DataIntegrityWarning struct {
	Field   string `json:"field,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (w DataIntegrityWarning) String() string {
	prefix := w.Field
	if prefix == "" {
		prefix = w.Source
	}
	if prefix == "" {
		return fmt.Sprintf("%s (%d rows)", w.Message, w.Count)
	}
	return fmt.Sprintf("%s: %s (%d rows)", prefix, w.Message, w.Count)
}

// FieldFailure records a field that could not be processed during a batch.
type FieldFailure struct {
	Field  string
	Source string
	Err    error
}

func (f FieldFailure) Error() string {
	name := f.Field
	if name == "" {
		name = f.Source
	}
	return fmt.Sprintf("field %s: %v", name, f.Err)
}

func (f FieldFailure) Unwrap() error { return f.Err }
