// Package errors provides application-level error types and utilities.
// Error kinds carry the failure meaning so that the orchestrator — the only
// retry decision point — can interpret them without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal_error"

	// ErrorTypeIntegrity marks checksum mismatches on persisted credentials.
	ErrorTypeIntegrity ErrorType = "integrity_error"
	// ErrorTypeLockHeld is a normal "someone else has it" signal, not a fault.
	ErrorTypeLockHeld ErrorType = "lock_held"
	// ErrorTypeStoreUnavailable marks transient durable-store outages.
	ErrorTypeStoreUnavailable ErrorType = "store_unavailable"
)

// AppError represents an application error with additional context
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details string    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func newAppError(t ErrorType, code int, message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{Type: t, Message: message, Code: code, Details: detail}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message, details...)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeNotFound, http.StatusNotFound, message, details...)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeConflict, http.StatusConflict, message, details...)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message, details...)
}

// NewIntegrityError creates an error for credential checksum mismatches
func NewIntegrityError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeIntegrity, http.StatusConflict, message, details...)
}

// NewLockHeldError creates an error indicating another worker owns the lease
func NewLockHeldError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeLockHeld, http.StatusConflict, message, details...)
}

// NewStoreUnavailableError creates an error for transient store outages
func NewStoreUnavailableError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeStoreUnavailable, http.StatusServiceUnavailable, message, details...)
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

func IsNotFound(err error) bool         { return IsType(err, ErrorTypeNotFound) }
func IsIntegrity(err error) bool        { return IsType(err, ErrorTypeIntegrity) }
func IsLockHeld(err error) bool         { return IsType(err, ErrorTypeLockHeld) }
func IsStoreUnavailable(err error) bool { return IsType(err, ErrorTypeStoreUnavailable) }
