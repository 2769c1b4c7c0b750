// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants are mapped to HTTP responses via the `fail()`
// helper, giving clients a stable machine-readable error taxonomy alongside
// human-readable messages. Codes are lowercase snake_case; generic codes
// mirror common HTTP status semantics.

package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeInternal    = "internal_error"

	// Domain-specific:
	ErrCodeVerifyFailed     = "verification_failed"
	ErrCodeStoreFailed      = "store_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
