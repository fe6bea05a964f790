package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for record validation failures.
var (
	ErrUnknownVendor    = errors.New("unknown vendor")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrMissingIdentity  = errors.New("missing identity field")
	ErrDuplicateOption  = errors.New("duplicate option code")
	ErrUnknownReason    = errors.New("unknown difference reason")
	ErrMalformedChange  = errors.New("malformed difference value")
	ErrMissingContract  = errors.New("missing contract type")
	ErrMissingVehicleID = errors.New("missing vehicle id")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
