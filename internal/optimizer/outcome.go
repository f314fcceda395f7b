package optimizer

import (
	"time"

	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/ratelimit"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeValidationError
	OutcomeRateLimited
	OutcomeBackendError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidationError:
		return "validation_error"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Outcome is the single result of an Optimize call. Only the fields of its
// Kind are set; use the constructors below.
type Outcome struct {
	Kind OutcomeKind

	// Success
	Text   string
	Action string // canonical action key
	Cached bool

	// ValidationError, RateLimited, BackendError
	Message string

	// RateLimited and unavailable BackendError; Limit and Remaining are
	// also set on Success
	RetryAfter time.Duration
	Limit      int
	Remaining  int

	// BackendError
	Status      int
	BackendKind backend.ErrorKind
}

// Success builds a successful outcome.
func Success(text, action string, cached bool, d ratelimit.Decision) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: text, Action: action, Cached: cached, Limit: d.Limit, Remaining: d.Remaining}
}

// ValidationError builds an outcome for a rejected request.
func ValidationError(message string) Outcome {
	return Outcome{Kind: OutcomeValidationError, Message: message}
}

// RateLimited builds an outcome for a call denied by the limiter.
func RateLimited(d ratelimit.Decision) Outcome {
	return Outcome{
		Kind:       OutcomeRateLimited,
		Message:    "rate limit exceeded, try again later",
		RetryAfter: d.RetryAfter,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
	}
}

// BackendError builds an outcome from a normalized backend failure.
func BackendError(err *backend.Error) Outcome {
	return Outcome{
		Kind:        OutcomeBackendError,
		Message:     err.Message,
		Status:      err.Status,
		BackendKind: err.Kind,
		RetryAfter:  err.RetryAfter,
	}
}

// Decision returns the limiter view of the outcome for response headers.
func (o Outcome) Decision() ratelimit.Decision {
	return ratelimit.Decision{
		Allowed:    o.Kind != OutcomeRateLimited,
		Limit:      o.Limit,
		Remaining:  o.Remaining,
		RetryAfter: o.RetryAfter,
	}
}
