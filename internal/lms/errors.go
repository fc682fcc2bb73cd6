package lms

import (
	"fmt"
	"time"
)

// APIError represents a non-2xx response from the LMS API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LMS API error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("LMS API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError with the given status code and message
func NewAPIError(statusCode int, message string, err error) error {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// RateLimitError represents an exhausted retry budget against HTTP 429
// responses. The LMS documents no Retry-After guarantee, so the client uses
// a fixed backoff.
type RateLimitError struct {
	RetriedAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("LMS API rate limit exceeded after %v backoff", e.RetriedAfter)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}

// ValidationError represents invalid input to LMS client methods
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: invalid %s: %s", e.Field, e.Value)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, value string) error {
	return &ValidationError{Field: field, Value: value}
}
