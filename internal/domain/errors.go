package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeProvider      = "PROVIDER_ERROR"
	ErrCodeCorruptStore  = "CORRUPT_STORE"
	ErrCodeIO            = "IO_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidResultCount = NewDomainError(ErrCodeValidation, "result count must be at least 1")
	ErrEmptyQuery         = NewDomainError(ErrCodeValidation, "query cannot be empty")
)

// NewValidationError reports malformed input rejected before any persistence.
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrCodeValidation, message)
}

// NewProviderError reports a failed embedding call.
func NewProviderError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProvider, message, err)
}

// NewCorruptStoreError reports persisted state that cannot be trusted.
func NewCorruptStoreError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeCorruptStore, message, err)
}

// NewIOError reports a filesystem failure while reading or persisting state.
func NewIOError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeIO, message, err)
}

// HasCode reports whether err, or any error it wraps, is a DomainError with code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
