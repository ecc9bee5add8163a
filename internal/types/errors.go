// Package types provides shared type definitions used across the controller.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON path to the field (e.g., "compositions[2].mics")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
// A non-empty ValidationError from config loading is fatal for automation.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors reports whether any field error was collected.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, fe := range v.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// DeviceCommandError reports a failed video device command.
// Decision state is not rolled back when it occurs.
type DeviceCommandError struct {
	Command string
	Err     error
}

func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("device command %s failed: %v", e.Command, e.Err)
}

func (e *DeviceCommandError) Unwrap() error { return e.Err }

// UnitCommunicationError reports a failed send to an auxiliary unit.
type UnitCommunicationError struct {
	Address string
	Token   string
	Err     error
}

func (e *UnitCommunicationError) Error() string {
	return fmt.Sprintf("send %q to unit %s: %v", e.Token, e.Address, e.Err)
}

func (e *UnitCommunicationError) Unwrap() error { return e.Err }

// ErrStaleWidget is returned when a widget update targets a widget that is
// not currently displayed on the panel.
var ErrStaleWidget = errors.New("widget not displayed")
