// Package apperr defines the error taxonomy shared by the slot generator,
// the booking coordinator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrNotFound               = errors.New("not found")
	ErrTransient              = errors.New("transient store error")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SlotUnavailableError is the expected outcome of a lost booking race or of a
// schedule change between listing and booking.
type SlotUnavailableError struct {
	Reason string
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot unavailable: %s", e.Reason)
}

func (e *SlotUnavailableError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

// SlotUnavailable builds a SlotUnavailableError.
func SlotUnavailable(reason string) error {
	return &SlotUnavailableError{Reason: reason}
}

// TransientError wraps a connection or transaction failure. Callers may retry
// the whole operation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// Transient wraps err unless it already carries a classification.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransient)
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrTransient)
}
