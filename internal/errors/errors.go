// Package errors provides the error definitions shared by every nibbled
// package.
//
// This file provides:
// - Numeric error codes for the status and shell surfaces
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Validation error collection

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error codes - reported by the status report and the interactive shell
// ============================================================================

const (
	CodeUnknown         int32 = 1
	CodeBusy            int32 = 2
	CodePermission      int32 = 3
	CodeInvalidArgument int32 = 4
	CodeOverflow        int32 = 5
	CodeAllocation      int32 = 6
	CodeSessionTable    int32 = 7
	CodeClosed          int32 = 8
	CodeInternal        int32 = 9
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeBusy:
		return "Busy"
	case CodePermission:
		return "Permission"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeOverflow:
		return "Overflow"
	case CodeAllocation:
		return "AllocationFailure"
	case CodeSessionTable:
		return "SessionTableFull"
	case CodeClosed:
		return "Closed"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Admission errors
	ErrBusy       = errors.New("device busy")
	ErrPermission = errors.New("permission denied")

	// Validation errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")

	// Ingest errors. These never reach a caller; they are counted and logged.
	ErrOverflow         = errors.New("transfer queue full")
	ErrAllocation       = errors.New("page allocation failed")
	ErrSessionTableFull = errors.New("session table full")

	// State errors
	ErrClosed         = errors.New("handle closed")
	ErrNotRunning     = errors.New("device not running")
	ErrAlreadyRunning = errors.New("device already running")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// IsAdmission returns true if err rejected an open.
func IsAdmission(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrPermission)
}

// IsIngest returns true if err originated on the ingest path.
func IsIngest(err error) bool {
	return errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrAllocation) ||
		errors.Is(err, ErrSessionTableFull)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsRetriable returns true if the operation may succeed when tried again
// later without any change by the caller.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrAllocation) ||
		errors.Is(err, ErrSessionTableFull)
}

// ErrorToCode maps a sentinel error to its numeric code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrBusy):
		return CodeBusy
	case Is(err, ErrPermission):
		return CodePermission
	case IsValidation(err):
		return CodeInvalidArgument
	case Is(err, ErrOverflow):
		return CodeOverflow
	case Is(err, ErrAllocation):
		return CodeAllocation
	case Is(err, ErrSessionTableFull):
		return CodeSessionTable
	case Is(err, ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}

// ============================================================================
// Constructors
// ============================================================================

// NewInvalidArgument creates an invalid-argument error with context.
func NewInvalidArgument(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidArgument)
}

// NewValidation creates a config validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
