// Package backend adapts text-generation services to a single Generator
// capability and normalizes their failures into a small error taxonomy.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Kind names a backend variant.
type Kind string

const (
	// KindLocalQueue is a self-hosted completion server (vLLM style).
	KindLocalQueue Kind = "local_queue"
	// KindRemoteHosted is a hosted inference API (Hugging Face style).
	KindRemoteHosted Kind = "remote_hosted"
)

// DefaultTimeout bounds a generation call when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config selects and parameterizes a backend. It is immutable after load.
type Config struct {
	Kind        Kind          `mapstructure:"kind" validate:"required,oneof=local_queue remote_hosted"`
	Endpoint    string        `mapstructure:"endpoint" validate:"required,url"`
	Credential  string        `mapstructure:"credential"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gt=0"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Result is a successful generation.
type Result struct {
	Text    string
	Status  int
	Latency time.Duration
}

// Generator sends a rendered prompt to a backend and returns its completion.
// Failures are always *Error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
	Kind() Kind
}

// New builds the generator selected by cfg.Kind.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("backend: invalid endpoint: %w", err)
	}
	switch cfg.Kind {
	case KindLocalQueue:
		if cfg.MaxTokens <= 0 {
			return nil, fmt.Errorf("backend: max_tokens must be positive, got %d", cfg.MaxTokens)
		}
		if cfg.Temperature < 0 || cfg.Temperature > 2 {
			return nil, fmt.Errorf("backend: temperature must be within [0, 2], got %v", cfg.Temperature)
		}
		if cfg.Credential != "" {
			logger.Warn("credential is ignored for the local queue backend")
		}
		return NewLocalQueue(cfg, logger), nil
	case KindRemoteHosted:
		if cfg.Credential == "" {
			logger.Warn("remote hosted backend configured without a credential")
		}
		return NewRemoteHosted(cfg, logger), nil
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", cfg.Kind)
	}
}

// ErrorKind classifies a generation failure.
type ErrorKind int

const (
	// KindUpstream: the backend answered with a non-2xx status.
	KindUpstream ErrorKind = iota + 1
	// KindMalformed: a 2xx answer did not have the expected shape.
	KindMalformed
	// KindTransport: the backend could not be reached.
	KindTransport
	// KindTimeout: the call exceeded its deadline.
	KindTimeout
	// KindUnavailable: the circuit breaker is open.
	KindUnavailable
	// KindCanceled: the caller gave up before the backend answered.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a normalized backend failure. Message is safe to show to callers:
// it never contains the credential or transport internals. The underlying
// cause is only reachable through Unwrap.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	// RetryAfter is set on KindUnavailable to the time left until the
	// breaker lets a call through again.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s error (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure says something about backend
// health rather than about the request.
func (e *Error) IsTransient() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindUpstream:
		return e.Status >= 500
	}
	return false
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
