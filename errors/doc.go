// Package errors provides unified error handling for streamsight.
// It implements structured error types with machine-readable codes, HTTP
// status mapping, and retryable detection. Failures local to one metric
// source or model are recorded per item and returned beside partial
// results; codes that invalidate a whole request abort it.
package errors
