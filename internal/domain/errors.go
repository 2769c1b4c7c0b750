// Package domain defines the core entities and shared error taxonomy.
//
// This file centralizes the typed errors shared across the core: not-found
// sentinels surfaced to callers, bad-request validation failures, and the
// rate-limit error raised by the external service clients. Translation into
// HTTP status codes is performed at the handler layer.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrAccountNotFound indicates the history service does not know the
	// given username, or no account is registered for the user.
	ErrAccountNotFound = errors.New("history account not found")

	// ErrTrackNotFound indicates the requested track does not exist, or a
	// raw listen has not been linked to a canonical track yet.
	ErrTrackNotFound = errors.New("track not found")

	// ErrListenNotFound indicates the requested listen does not exist.
	ErrListenNotFound = errors.New("listen not found")

	// ErrJobNotFound indicates the requested catalog search job does not exist.
	ErrJobNotFound = errors.New("catalog search job not found")

	// ErrNoPendingJobs is returned by a queue claim when every job is
	// terminal or already being searched. A normal idle condition, not a
	// failure: the worker trigger pauses on it.
	ErrNoPendingJobs = errors.New("no pending catalog search jobs")

	// ErrNoEligibleUser is returned by a scheduler claim when no user is
	// eligible for a history update. A normal no-op tick.
	ErrNoEligibleUser = errors.New("no eligible user")

	// ErrBadRequest indicates malformed input to one of the core's public
	// functions, e.g. a non-numeric id.
	ErrBadRequest = errors.New("bad request")

	// ErrTooManyRequests is the classification an external service's 429
	// responses unwrap to. Use RateLimitError to carry the retry-after hint.
	ErrTooManyRequests = errors.New("too many requests")
)

// RateLimitError reports that an external service rejected a call with a
// 429 and optionally how long the caller should back off. It unwraps to
// ErrTooManyRequests so callers can classify with errors.Is.
type RateLimitError struct {
	// Service names the offending collaborator ("history" or "catalog").
	Service string
	// RetryAfter is the parsed Retry-After hint, nil when absent.
	RetryAfter *time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("%s service rate limited, retry after %s", e.Service, *e.RetryAfter)
	}
	return fmt.Sprintf("%s service rate limited", e.Service)
}

// Unwrap classifies the error as ErrTooManyRequests.
func (e *RateLimitError) Unwrap() error { return ErrTooManyRequests }
