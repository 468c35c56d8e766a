package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced batch, order, payment, challan or scheme does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientInventory indicates a movement would exceed available stock.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, ErrNotFound)
}

// Unwrap exposes ErrNotFound to errors.Is.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientInventoryError carries requested vs available quantities.
type InsufficientInventoryError struct {
	BatchID   int64
	Requested int64
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("batch %d: %s: requested %d, available %d", e.BatchID, ErrInsufficientInventory, e.Requested, e.Available)
}

// Unwrap exposes ErrInsufficientInventory to errors.Is.
func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s: %s", e.Entity, e.Action, e.From, ErrInvalidTransition)
}

// Unwrap exposes ErrInvalidTransition to errors.Is.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError points at the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap exposes ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
