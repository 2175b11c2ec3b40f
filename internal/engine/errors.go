// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
)

// Common engine errors
var (
	ErrBrowserNotFound = errors.New("chrome browser not found")
	ErrPoolClosed      = errors.New("browser pool is closed")
	ErrNoStrategy      = errors.New("no strategy available for engine")
)

// ErrorCode classifies a failure for the cascade and the retry controller
type ErrorCode string

const (
	ErrCodeFetch            ErrorCode = "FETCH_FAILURE"
	ErrCodeExtraction       ErrorCode = "EXTRACTION_FAILURE"
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodePool             ErrorCode = "POOL_FAILURE"
	ErrCodeValidation       ErrorCode = "VALIDATION"
)

// Sentinels for errors.Is matching by code
var (
	ErrFetchFailure      = &EngineError{Code: ErrCodeFetch}
	ErrExtractionFailure = &EngineError{Code: ErrCodeExtraction}
	ErrRetriesExhausted  = &EngineError{Code: ErrCodeRetriesExhausted}
	ErrPoolFailure       = &EngineError{Code: ErrCodePool}
	ErrValidation        = &EngineError{Code: ErrCodeValidation}
)

// EngineError wraps errors with additional context
type EngineError struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Retry      bool
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// Is matches another EngineError by code, otherwise defers to the underlying error
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

// NewEngineError creates a new EngineError
func NewEngineError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		Underlying: err,
		Retry:      code != ErrCodeValidation,
		Details:    make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the error
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// FetchFailure reports a failed network request or navigation
func FetchFailure(message string, err error) *EngineError {
	return NewEngineError(ErrCodeFetch, message, err)
}

// ExtractionFailure reports a failure while building records
func ExtractionFailure(message string, err error) *EngineError {
	return NewEngineError(ErrCodeExtraction, message, err)
}

// PoolFailure reports a browser process that could not be launched
func PoolFailure(message string, err error) *EngineError {
	return NewEngineError(ErrCodePool, message, err)
}

// ValidationError reports a request rejected at the boundary
func ValidationError(message string, err error) *EngineError {
	return NewEngineError(ErrCodeValidation, message, err)
}

// RetriesExhausted wraps the last attempt's error once the retry budget is spent
func RetriesExhausted(attempts int, last error) *EngineError {
	return NewEngineError(ErrCodeRetriesExhausted,
		fmt.Sprintf("gave up after %d attempts", attempts), last).
		WithDetail("attempts", attempts)
}

// CodeOf returns the code of the outermost EngineError in err's chain
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsRetryable reports whether the retry controller should try again after err
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retry
	}
	return true
}
