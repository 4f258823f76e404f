package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common domain error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAccessDenied    = "ACCESS_DENIED"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeUpstreamFailure = "UPSTREAM_FAILURE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewValidationError creates a new validation error
func NewValidationError(message, details string) *DomainError {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: fmt.Sprintf("ID: %s", id),
	}
}

// NewAccessDeniedError creates a new access denied error
func NewAccessDeniedError(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeAccessDenied,
		Message: message,
	}
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message, details string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: message,
		Details: details,
	}
}

// NewUpstreamFailureError creates a new upstream failure error
func NewUpstreamFailureError(collaborator, details string) *DomainError {
	return &DomainError{
		Code:    ErrCodeUpstreamFailure,
		Message: fmt.Sprintf("%s unavailable", collaborator),
		Details: details,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInternal,
		Message: message,
	}
}

// IsDomainError checks if an error is a domain error
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

// AsDomainError extracts a domain error from an error chain
func AsDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// HasCode reports whether err is a domain error with the given code
func HasCode(err error, code string) bool {
	if domainErr := AsDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
