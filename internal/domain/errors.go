package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error surfaced by a service wraps exactly one of these so the
// HTTP layer can pick a status code with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrAuthentication       = errors.New("authentication required")
	ErrForbidden            = errors.New("unauthorized access")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("already exists")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrInferenceUnavailable = errors.New("inference unavailable")
)

// Validation failures that carry their own meaning
var (
	ErrInvalidTransition = fmt.Errorf("%w: review status cannot move backwards", ErrValidation)
	ErrImageDecode       = fmt.Errorf("%w: image could not be decoded", ErrValidation)
)

// APIError represents a standardized error line for audit logs
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization  = "AUTHORIZATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeStorage        = "STORAGE_ERROR"
	ErrCodeInference      = "INFERENCE_ERROR"
	ErrCodeInternal       = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrorCode returns the audit code matching the kind of err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, ErrAuthentication):
		return ErrCodeAuthentication
	case errors.Is(err, ErrForbidden):
		return ErrCodeAuthorization
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrStorageUnavailable):
		return ErrCodeStorage
	case errors.Is(err, ErrInferenceUnavailable):
		return ErrCodeInference
	default:
		return ErrCodeInternal
	}
}
