package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorKind categorizes a service error.
type ErrorKind string

const (
	// KindInvalidInput is a malformed or unsupported request, rejected
	// before pipeline entry.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindRateLimit is an admission rejection, also pre-pipeline.
	KindRateLimit ErrorKind = "rate_limit"

	// KindSafety is a pipeline-internal early termination. The caller gets
	// a canned rejection response, not this error.
	KindSafety ErrorKind = "safety"

	// KindStageTimeout is a stage that exceeded its deadline.
	KindStageTimeout ErrorKind = "stage_timeout"

	// KindStageFailure is any stage error, including upstream service
	// failures folded in at the gateway boundary.
	KindStageFailure ErrorKind = "stage_failure"

	// KindSystem is an unexpected internal fault, isolated to one request.
	KindSystem ErrorKind = "system"
)

// ErrorCode is the machine-readable code carried in REST error envelopes.
type ErrorCode string

const (
	CodeSafetyViolation   ErrorCode = "SAFETY_VIOLATION"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInvalidLanguage   ErrorCode = "INVALID_LANGUAGE"
	CodeSystemError       ErrorCode = "SYSTEM_ERROR"
)

// ServiceError is the canonical error returned across component
// boundaries. Transport layers map it to an envelope and status code.
type ServiceError struct {
	Kind       ErrorKind
	Code       ErrorCode
	Message    string
	StatusCode int
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the status code for this error, falling back to
// a default per kind.
func (e *ServiceError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindSafety:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidLanguage rejects an unsupported language tag.
func ErrInvalidLanguage(language string) *ServiceError {
	return &ServiceError{
		Kind:    KindInvalidInput,
		Code:    CodeInvalidLanguage,
		Message: fmt.Sprintf("unsupported language %q (supported: en, hi)", language),
	}
}

// ErrInvalidInput rejects a malformed request body.
func ErrInvalidInput(message string) *ServiceError {
	return &ServiceError{
		Kind:    KindInvalidInput,
		Code:    CodeSystemError,
		Message: message,
	}
}

// ErrRateLimited rejects a request that failed admission.
func ErrRateLimited() *ServiceError {
	return &ServiceError{
		Kind:    KindRateLimit,
		Code:    CodeRateLimitExceeded,
		Message: "rate limit exceeded, try again shortly",
	}
}

// ErrSystem wraps an unexpected internal fault.
func ErrSystem(message string) *ServiceError {
	return &ServiceError{
		Kind:    KindSystem,
		Code:    CodeSystemError,
		Message: message,
	}
}

// ErrorEnvelope is the REST failure body shared by every endpoint.
type ErrorEnvelope struct {
	Detail    string    `json:"detail"`
	ErrorCode ErrorCode `json:"error_code"`
	Timestamp string    `json:"timestamp"`
}

// Envelope builds the REST envelope for this error.
func (e *ServiceError) Envelope() ErrorEnvelope {
	return ErrorEnvelope{
		Detail:    e.Message,
		ErrorCode: e.Code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
