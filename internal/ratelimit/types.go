// types.go: Core types and interfaces for rate limiting
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidConfig is returned by constructors given a non-positive limit or window.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Limiter admits or rejects a call for a client key at instant now.
// Admission records the call; a rejection leaves the window unchanged.
type Limiter interface {
	Admit(ctx context.Context, key string, now time.Time) (Decision, error)
}

// Decision is the result of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int           // calls still available in the current window
	RetryAfter time.Duration // zero when allowed
}

// Headers returns the X-RateLimit-* and Retry-After values for this decision.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
	}
	if !d.Allowed {
		h["Retry-After"] = strconv.Itoa(RetryAfterSeconds(d.RetryAfter))
	}
	return h
}

// RetryAfterSeconds rounds d up to whole seconds, never returning less than 1.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// FailureMode decides what happens when the limiter's store cannot answer.
type FailureMode string

const (
	// FailOpen admits the call and logs the store error.
	FailOpen FailureMode = "open"
	// FailClosed rejects the call as rate limited.
	FailClosed FailureMode = "closed"
)

// ParseFailureMode validates a configured failure mode.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailOpen, FailClosed:
		return FailureMode(s), nil
	case "":
		return FailOpen, nil
	}
	return "", fmt.Errorf("%w: unknown failure mode %q", ErrInvalidConfig, s)
}

func validate(maxCalls int, window time.Duration) error {
	if maxCalls <= 0 {
		return fmt.Errorf("%w: max calls must be positive, got %d", ErrInvalidConfig, maxCalls)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, window)
	}
	return nil
}
