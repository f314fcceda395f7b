// Package optimizer orchestrates a single optimization call: validation,
// rate limiting, prompt rendering, generation and result normalization.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/history"
	"github.com/Aidin1998/optigate/internal/prompt"
	"github.com/Aidin1998/optigate/internal/ratelimit"
	"github.com/Aidin1998/optigate/pkg/metrics"
)

// DefaultMaxTextLength caps input text, in characters.
const DefaultMaxTextLength = 20000

// Request is one optimization call.
type Request struct {
	Text   string
	Action string
}

// Cache stores completions by canonical action and text.
type Cache interface {
	Get(action, text string) (string, bool)
	Set(action, text, completion string) bool
}

// HistoryRecorder persists completed optimizations.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Options wires a Service. Registry, Generator and Limiter are required.
type Options struct {
	Registry      *prompt.Registry
	Generator     backend.Generator
	Limiter       ratelimit.Limiter
	FailureMode   ratelimit.FailureMode
	Cache         Cache
	History       HistoryRecorder
	MaxTextLength int
	Clock         func() time.Time
	Logger        *zap.Logger
	Tracer        trace.Tracer
}

// Service runs optimization calls. It is safe for concurrent use.
type Service struct {
	registry    *prompt.Registry
	generator   backend.Generator
	limiter     ratelimit.Limiter
	failureMode ratelimit.FailureMode
	cache       Cache
	history     HistoryRecorder
	maxLen      int
	now         func() time.Time
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New validates opts and builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("optimizer: registry is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("optimizer: generator is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("optimizer: limiter is required")
	}
	if opts.FailureMode == "" {
		opts.FailureMode = ratelimit.FailOpen
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/Aidin1998/optigate/internal/optimizer")
	}
	return &Service{
		registry:    opts.Registry,
		generator:   opts.Generator,
		limiter:     opts.Limiter,
		failureMode: opts.FailureMode,
		cache:       opts.Cache,
		history:     opts.History,
		maxLen:      opts.MaxTextLength,
		now:         opts.Clock,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}, nil
}

// Templates lists the available actions.
func (s *Service) Templates() []prompt.Template {
	return s.registry.Templates()
}

// BackendKind reports which backend variant serves generations.
func (s *Service) BackendKind() backend.Kind {
	return s.generator.Kind()
}

// Optimize runs one call for clientID and always returns exactly one outcome.
func (s *Service) Optimize(ctx context.Context, req Request, clientID string) Outcome {
	ctx, span := s.tracer.Start(ctx, "optimizer.Optimize",
		trace.WithAttributes(attribute.String("optigate.action", req.Action)))
	defer span.End()

	out, action := s.optimize(ctx, req, clientID)

	metrics.Optimizations.WithLabelValues(action, out.Kind.String()).Inc()
	span.SetAttributes(
		attribute.String("optigate.outcome", out.Kind.String()),
		attribute.Bool("optigate.cached", out.Cached),
	)
	if out.Kind != OutcomeSuccess {
		span.SetStatus(codes.Error, out.Message)
	}
	return out
}

func (s *Service) optimize(ctx context.Context, req Request, clientID string) (Outcome, string) {
	tpl, ok := s.registry.Lookup(req.Action)
	if !ok {
		return ValidationError(fmt.Sprintf("unknown action %q", req.Action)), "unknown"
	}
	if strings.TrimSpace(req.Text) == "" {
		return ValidationError("text must not be empty"), tpl.Key
	}
	if n := utf8.RuneCountInString(req.Text); n > s.maxLen {
		return ValidationError(fmt.Sprintf("text is %d characters long, the limit is %d", n, s.maxLen)), tpl.Key
	}

	decision, err := s.limiter.Admit(ctx, clientID, s.now())
	switch {
	case err != nil && s.failureMode == ratelimit.FailClosed:
		s.logger.Error("rate limiter unavailable, rejecting", zap.String("client", clientID), zap.Error(err))
		metrics.RateLimitDecisions.WithLabelValues("error").Inc()
		return RateLimited(ratelimit.Decision{RetryAfter: time.Second}), tpl.Key
	case err != nil:
		s.logger.Warn("rate limiter unavailable, admitting", zap.String("client", clientID), zap.Error(err))
		metrics.RateLimitDecisions.WithLabelValues("error").Inc()
	case !decision.Allowed:
		metrics.RateLimitDecisions.WithLabelValues("rejected").Inc()
		s.logger.Info("rate limited",
			zap.String("client", clientID),
			zap.Duration("retry_after", decision.RetryAfter))
		return RateLimited(decision), tpl.Key
	default:
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	}

	if s.cache != nil {
		if text, hit := s.cache.Get(tpl.Key, req.Text); hit {
			s.record(ctx, clientID, tpl.Key, req.Text, text)
			return Success(text, tpl.Key, true, decision), tpl.Key
		}
	}

	res, err := s.generator.Generate(ctx, tpl.Render(req.Text))
	if err != nil {
		be, ok := backend.AsError(err)
		if !ok {
			be = &backend.Error{Kind: backend.KindTransport, Message: "backend call failed", Err: err}
		}
		s.logger.Warn("generation failed",
			zap.String("action", tpl.Key),
			zap.String("kind", be.Kind.String()),
			zap.Int("status", be.Status),
			zap.Error(err))
		return BackendError(be), tpl.Key
	}

	s.logger.Debug("generation succeeded",
		zap.String("action", tpl.Key),
		zap.Duration("latency", res.Latency))

	if s.cache != nil && !s.cache.Set(tpl.Key, req.Text, res.Text) {
		s.logger.Debug("cache dropped completion", zap.String("action", tpl.Key))
	}
	s.record(ctx, clientID, tpl.Key, req.Text, res.Text)
	return Success(res.Text, tpl.Key, false, decision), tpl.Key
}

func (s *Service) record(ctx context.Context, clientID, action, input, output string) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, history.Entry{ClientID: clientID, Action: action, Input: input, Output: output})
	if err != nil {
		s.logger.Warn("failed to record history", zap.String("client", clientID), zap.Error(err))
	}
}
