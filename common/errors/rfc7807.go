package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ProblemDetails represents RFC 7807 compliant error response
// RFC 7807: Problem Details for HTTP APIs
type ProblemDetails struct {
	// Type is a URI reference that identifies the problem type
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Status is the HTTP status code
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence of the problem
	Detail string `json:"detail"`
	// Instance is a URI reference that identifies the specific occurrence of the problem
	Instance string `json:"instance,omitempty"`
	// Timestamp when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// TraceID is the request id, for correlating with logs
	TraceID string `json:"traceId,omitempty"`
	// RetryAfter is set on rate limit and unavailable problems, in whole seconds
	RetryAfter int `json:"retryAfter,omitempty"`
	// Errors contains field-specific validation errors
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents field-specific validation errors
type ValidationError struct {
	// Field name that failed validation
	Field string `json:"field"`
	// Message describing the validation failure
	Message string `json:"message"`
	// Code is machine-readable error code for the field
	Code string `json:"code,omitempty"`
}

// Standard error types with URIs
const (
	TypeValidationError    = "https://optigate.dev/errors/validation-error"
	TypeUnauthorized       = "https://optigate.dev/errors/unauthorized"
	TypeNotFound           = "https://optigate.dev/errors/not-found"
	TypeRateLimit          = "https://optigate.dev/errors/rate-limit"
	TypeBackendError       = "https://optigate.dev/errors/backend-error"
	TypeBackendTimeout     = "https://optigate.dev/errors/backend-timeout"
	TypeBackendUnavailable = "https://optigate.dev/errors/backend-unavailable"
	TypeInternalError      = "https://optigate.dev/errors/internal-error"
)

// Standard error titles
const (
	TitleValidationError    = "Validation Error"
	TitleUnauthorized       = "Unauthorized"
	TitleNotFound           = "Not Found"
	TitleRateLimit          = "Rate Limit Exceeded"
	TitleBackendError       = "Optimization Failed"
	TitleBackendTimeout     = "Optimization Timed Out"
	TitleBackendUnavailable = "Backend Unavailable"
	TitleInternalError      = "Internal Server Error"
)

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		Timestamp: time.Now().UTC(),
	}
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errors []ValidationError) *ProblemDetails {
	p.Errors = errors
	return p
}

// AddValidationError adds a single validation error
func (p *ProblemDetails) AddValidationError(field, message, code string) *ProblemDetails {
	p.Errors = append(p.Errors, ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
	})
	return p
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

// NewValidationError creates a validation error
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeUnauthorized, TitleUnauthorized, http.StatusUnauthorized, detail, instance)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(detail, instance string, retryAfterSeconds int) *ProblemDetails {
	p := NewProblemDetails(TypeRateLimit, TitleRateLimit, http.StatusTooManyRequests, detail, instance)
	p.RetryAfter = retryAfterSeconds
	return p
}

// NewBackendError creates a bad gateway error for a failed generation
func NewBackendError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeBackendError, TitleBackendError, http.StatusBadGateway, detail, instance)
}

// NewBackendTimeoutError creates a gateway timeout error
func NewBackendTimeoutError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeBackendTimeout, TitleBackendTimeout, http.StatusGatewayTimeout, detail, instance)
}

// NewBackendUnavailableError creates a service unavailable error
func NewBackendUnavailableError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeBackendUnavailable, TitleBackendUnavailable, http.StatusServiceUnavailable, detail, instance)
}

// NewInternalError creates an internal server error
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}
