package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Connection/Availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates a collaborator is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection to a collaborator.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAlreadyExists indicates a snapshot for the same (topology,
	// reference) pair exists. Recoverable: re-read the current reference.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
)

// Topology analysis errors
const (
	// ErrCodeStructuralInconsistency indicates plan documents reference
	// operators or streams that are not declared. Fatal per request.
	ErrCodeStructuralInconsistency ErrorCode = "STRUCTURAL_INCONSISTENCY"
	// ErrCodeUnsupportedTopology indicates a fields-partitioned connection
	// whose source operator is itself fed by a fields-partitioned
	// connection. Fatal, never retried.
	ErrCodeUnsupportedTopology ErrorCode = "UNSUPPORTED_TOPOLOGY"
	// ErrCodeIllDetermined indicates the regression had fewer time buckets
	// than input columns. A configuration problem: bucket length too coarse.
	ErrCodeIllDetermined ErrorCode = "ILL_DETERMINED_REGRESSION"
	// ErrCodeMetricUnavailable indicates a telemetry backend cannot provide
	// a requested metric. A per-source failure, not a request abort.
	ErrCodeMetricUnavailable ErrorCode = "METRIC_UNAVAILABLE"
	// ErrCodeInvalidPlan indicates a packing plan failed schema validation.
	ErrCodeInvalidPlan ErrorCode = "INVALID_PLAN"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
)

// Authentication errors
const (
	// ErrCodeUnauthorized indicates the request is unauthorized.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// Internal errors
const (
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeExternalService indicates an error from an external service.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeAlreadyExists:      true,
	ErrCodeExternalService:    true,
	ErrCodeInternal:           false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
