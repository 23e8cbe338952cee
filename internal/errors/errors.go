// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// Pipeline taxonomy
	ErrorTypeContent            ErrorType = "content_error"
	ErrorTypeTransientProvider  ErrorType = "transient_provider_error"
	ErrorTypeFatalProvider      ErrorType = "fatal_provider_error"
	ErrorTypeProvidersExhausted ErrorType = "providers_exhausted"
	ErrorTypePersistence        ErrorType = "persistence_error"
)

// AppError is the error value shared by every package of the pipeline.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewContentError marks a script or source problem that needs a human; never retried.
func NewContentError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeContent, message, originalError)
}

// NewTransientProviderError marks timeouts, rate limits and 5xx answers.
func NewTransientProviderError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTransientProvider, message, originalError)
}

// NewFatalProviderError marks invalid requests, auth and balance failures.
func NewFatalProviderError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeFatalProvider, message, originalError)
}

func NewProvidersExhaustedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeProvidersExhausted, message, originalError)
}

func NewPersistenceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypePersistence, message, originalError)
}

// TypeOf returns the ErrorType of the outermost AppError in the chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func isType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

func IsContentError(err error) bool { return isType(err, ErrorTypeContent) }

func IsTransientProviderError(err error) bool { return isType(err, ErrorTypeTransientProvider) }

func IsFatalProviderError(err error) bool { return isType(err, ErrorTypeFatalProvider) }

func IsProvidersExhaustedError(err error) bool { return isType(err, ErrorTypeProvidersExhausted) }

func IsPersistenceError(err error) bool { return isType(err, ErrorTypePersistence) }

// generateErrorCode maps an ErrorType to the code reported by the API.
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeContent:
		return "CONTENT_ERROR"
	case ErrorTypeTransientProvider:
		return "PROVIDER_TRANSIENT"
	case ErrorTypeFatalProvider:
		return "PROVIDER_FATAL"
	case ErrorTypeProvidersExhausted:
		return "PROVIDERS_EXHAUSTED"
	case ErrorTypePersistence:
		return "PERSISTENCE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError adds context to err, keeping the type of an existing AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
