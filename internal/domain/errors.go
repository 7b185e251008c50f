package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAthleteNotFound is returned when an athlete row does not exist.
	ErrAthleteNotFound = errors.New("athlete not found")
	// ErrSyncInProgress indicates another run already holds the athlete's sync lease.
	ErrSyncInProgress = errors.New("sync already in progress for athlete")
)

// ThrottledError is the provider's rate-limit signal. RetryAfter carries the
// provider-suggested wait; zero means the provider gave no hint.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider throttled request, retry after %s", e.RetryAfter)
	}
	return "provider throttled request"
}

// TransportError wraps network or provider failures that are not throttling.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is a provider throttling signal and returns
// the suggested retry delay when present.
func IsThrottled(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter, true
	}
	return 0, false
}
