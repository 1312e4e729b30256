package duel

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is against these.
var (
	// ErrValidation marks a rejected outcome; no state changed.
	ErrValidation = errors.New("invalid duel")
	// ErrPersistence marks a duel whose rating write did not durably apply.
	// No experience was awarded and the caller may retry.
	ErrPersistence = errors.New("duel not persisted")

	ErrNotEnoughItems = errors.New("need at least two active items to duel")
)

// Validation reasons.
var (
	ErrUnknownItem      = errors.New("unknown item")
	ErrInactiveItem     = errors.New("item is not active")
	ErrMalformedOutcome = errors.New("malformed outcome")
	ErrDuplicateOutcome = errors.New("outcome already recorded")
	ErrMissingUser      = errors.New("user id is required")
)

// ValidationError is returned for outcomes rejected before any write.
type ValidationError struct {
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %v", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %v: %s", ErrValidation, e.Reason, e.Detail)
}

// Unwrap exposes both the class and the reason to errors.Is.
func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Reason} }

func invalid(reason error, format string, args ...any) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// PersistenceError is returned when the store could not apply a duel.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
}

// Unwrap exposes both the class and the cause to errors.Is.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
