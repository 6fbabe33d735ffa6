package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Infrastructure constructors ---

// ServiceUnavailable creates a new AppError for a collaborator that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a collaborator.
func ConnectionFailed(service string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("Unable to connect to %s. Please verify the service is running.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Timeout creates a new AppError for a request that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long. Please try again.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// ExternalServiceError creates a new AppError for an error from an external service.
func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExternalService, Message: fmt.Sprintf("The %s service encountered an error. Please try again.", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}

// --- Resource constructors ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// AlreadyExists creates a new AppError for a graph snapshot that already
// exists for the given (topology, reference) pair. The caller recovers by
// re-reading the current reference.
func AlreadyExists(topology, reference string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyExists, Message: fmt.Sprintf("A graph snapshot for topology %s with reference %s already exists.", topology, reference),
		HTTPStatus: http.StatusConflict, Retryable: true,
		Details: map[string]any{"topology": topology, "reference": reference},
	}
}

// --- Topology analysis constructors ---

// StructuralInconsistency creates a new AppError for plan documents that
// reference undeclared operators or streams. The snapshot build is aborted
// without partial writes.
func StructuralInconsistency(reason string) *AppError {
	return &AppError{
		Code: ErrCodeStructuralInconsistency, Message: fmt.Sprintf("Topology plan documents are inconsistent: %s", reason),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
	}
}

// UnsupportedTopology creates a new AppError for a topology shape the
// estimators cannot analyze.
func UnsupportedTopology(reason string) *AppError {
	return &AppError{
		Code: ErrCodeUnsupportedTopology, Message: fmt.Sprintf("Unsupported topology shape: %s", reason),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
	}
}

// IllDetermined creates a new AppError for a regression with fewer time
// buckets than independent columns.
func IllDetermined(buckets, columns int) *AppError {
	return &AppError{
		Code: ErrCodeIllDetermined, Message: "Regression is ill determined: the metric window yields fewer time buckets than input columns. Use a shorter bucket length or a longer window.",
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"buckets": buckets, "columns": columns},
	}
}

// MetricUnavailable creates a new AppError for a metric a telemetry backend
// cannot provide. Orchestration records it per source and continues.
func MetricUnavailable(metric, backend string) *AppError {
	return &AppError{
		Code: ErrCodeMetricUnavailable, Message: fmt.Sprintf("Metric %s is not available from the %s backend.", metric, backend),
		HTTPStatus: http.StatusBadGateway, Retryable: false,
		Details: map[string]any{"metric": metric, "backend": backend},
	}
}

// InvalidPlan creates a new AppError for a packing plan that failed schema
// validation.
func InvalidPlan(reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("Packing plan is invalid: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// --- Validation constructors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// MissingField creates a new AppError for a missing required field.
func MissingField(field string) *AppError {
	return &AppError{
		Code: ErrCodeMissingField, Message: fmt.Sprintf("Missing required field: %s", field),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"field": field},
	}
}

// --- Authentication constructors ---

// Unauthorized creates a new AppError for unauthorized access.
func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "Authentication required."
	}
	return &AppError{
		Code: ErrCodeUnauthorized, Message: reason,
		HTTPStatus: http.StatusUnauthorized, Retryable: false,
	}
}

// --- Internal constructors ---

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred. Please try again or contact support.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}
