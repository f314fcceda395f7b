package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/pkg/metrics"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int32

const (
	// StateClosed - normal operation, calls pass through
	StateClosed BreakerState = iota
	// StateOpen - calls fail fast with KindUnavailable
	StateOpen
	// StateHalfOpen - a single probe decides whether to close again
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" validate:"gte=0"`
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

// Breaker wraps a Generator and stops calling it after MaxFailures
// consecutive transient failures. It never retries: each Generate reaches
// the backend at most once.
type Breaker struct {
	next        Generator
	maxFailures int64
	cooldown    time.Duration
	now         func() time.Time

	state           int32 // BreakerState
	failureCount    int64
	lastFailureTime int64 // unix nano
	probing         int32

	logger *zap.Logger
}

// WithBreaker decorates g with a circuit breaker.
func WithBreaker(g Generator, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	metrics.BreakerState.WithLabelValues(string(g.Kind())).Set(0)
	return &Breaker{
		next:        g,
		maxFailures: int64(cfg.MaxFailures),
		cooldown:    cfg.Cooldown,
		now:         time.Now,
		state:       int32(StateClosed),
		logger:      logger,
	}
}

// Kind implements Generator.
func (b *Breaker) Kind() Kind { return b.next.Kind() }

// State returns the current state.
func (b *Breaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&b.state))
}

// Generate implements Generator.
func (b *Breaker) Generate(ctx context.Context, prompt string) (Result, error) {
	probe, ok := b.allowRequest()
	if !ok {
		wait := b.retryAfter()
		return Result{}, &Error{
			Kind:       KindUnavailable,
			Status:     http.StatusServiceUnavailable,
			Message:    fmt.Sprintf("backend temporarily unavailable, retry in %s", (wait+time.Second-1).Truncate(time.Second)),
			RetryAfter: wait,
		}
	}
	if probe {
		defer atomic.StoreInt32(&b.probing, 0)
	}

	res, err := b.next.Generate(ctx, prompt)
	be, isBackend := AsError(err)
	switch {
	case isBackend && be.Kind == KindCanceled:
		// Neither a failure nor a success; a half-open breaker probes again.
	case isBackend && be.IsTransient():
		b.recordFailure()
	default:
		b.recordSuccess()
	}
	return res, err
}

// retryAfter is the time left in the current cooldown. A breaker waiting on
// an in-flight probe reports the full cooldown.
func (b *Breaker) retryAfter() time.Duration {
	elapsed := time.Duration(b.now().UnixNano() - atomic.LoadInt64(&b.lastFailureTime))
	if left := b.cooldown - elapsed; left > 0 {
		return left
	}
	return b.cooldown
}

// allowRequest reports whether a call may proceed and whether it is the
// half-open probe.
func (b *Breaker) allowRequest() (probe, ok bool) {
	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case StateClosed:
		return false, true
	case StateOpen:
		last := atomic.LoadInt64(&b.lastFailureTime)
		if b.now().UnixNano()-last < b.cooldown.Nanoseconds() {
			return false, false
		}
		if atomic.CompareAndSwapInt32(&b.state, int32(StateOpen), int32(StateHalfOpen)) {
			b.logger.Info("circuit breaker transitioning to half-open",
				zap.String("backend", string(b.Kind())))
		}
		fallthrough
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&b.probing, 0, 1) {
			return true, true
		}
		return false, false
	}
	return false, false
}

func (b *Breaker) recordSuccess() {
	atomic.StoreInt64(&b.failureCount, 0)
	if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateClosed)) {
		metrics.BreakerState.WithLabelValues(string(b.Kind())).Set(0)
		b.logger.Info("circuit breaker closed after successful probe",
			zap.String("backend", string(b.Kind())))
	}
}

func (b *Breaker) recordFailure() {
	failures := atomic.AddInt64(&b.failureCount, 1)
	atomic.StoreInt64(&b.lastFailureTime, b.now().UnixNano())

	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case StateClosed:
		if failures >= b.maxFailures && atomic.CompareAndSwapInt32(&b.state, int32(StateClosed), int32(StateOpen)) {
			metrics.BreakerState.WithLabelValues(string(b.Kind())).Set(1)
			b.logger.Warn("circuit breaker opened due to failures",
				zap.String("backend", string(b.Kind())),
				zap.Int64("failures", failures),
				zap.Int64("max_failures", b.maxFailures))
		}
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateOpen)) {
			metrics.BreakerState.WithLabelValues(string(b.Kind())).Set(1)
			b.logger.Warn("circuit breaker returned to open state after failed probe",
				zap.String("backend", string(b.Kind())))
		}
	}
}
