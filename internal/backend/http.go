package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/pkg/metrics"
)

const (
	maxMessageBytes = 512
	redacted        = "[REDACTED]"
)

// httpClient holds what both variants share: a resty client without
// retries, the config, and the logger.
type httpClient struct {
	kind   Kind
	cfg    Config
	http   *resty.Client
	logger *zap.Logger
}

func newHTTPClient(kind Kind, cfg Config, logger *zap.Logger) httpClient {
	c := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return httpClient{kind: kind, cfg: cfg, http: c, logger: logger.With(zap.String("backend", string(kind)))}
}

// post sends body and returns the raw response. bearer is sent as the
// Authorization token when non-empty. Transport failures and non-2xx
// answers come back as *Error.
func (c httpClient) post(ctx context.Context, body any, bearer string) (*resty.Response, error) {
	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := c.http.R().SetContext(ctx).SetBody(body)
	if bearer != "" {
		req.SetAuthToken(bearer)
	}

	start := time.Now()
	rr, err := req.Post(c.cfg.Endpoint)
	if err != nil {
		be := c.transportError(callerCtx, ctx, err)
		c.observe(start, be)
		return nil, be
	}
	if !rr.IsSuccess() {
		be := &Error{
			Kind:    KindUpstream,
			Status:  rr.StatusCode(),
			Message: upstreamMessage(rr.StatusCode(), rr.Body(), c.cfg.Credential),
		}
		c.observe(start, be)
		c.logger.Warn("backend returned error status",
			zap.Int("status", be.Status),
			zap.String("message", be.Message))
		return nil, be
	}
	c.observe(start, nil)
	return rr, nil
}

// transportError classifies a failed round trip. A cancellation by the
// caller says nothing about backend health and gets its own kind.
func (c httpClient) transportError(callerCtx, ctx context.Context, err error) *Error {
	if errors.Is(callerCtx.Err(), context.Canceled) {
		c.logger.Debug("backend call abandoned by caller")
		return &Error{Kind: KindCanceled, Message: "request canceled by client", Err: err}
	}
	if isTimeout(ctx, err) {
		c.logger.Warn("backend call timed out", zap.Duration("timeout", c.cfg.Timeout))
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("backend did not respond within %s", c.cfg.Timeout),
			Err:     err,
		}
	}
	c.logger.Warn("backend call failed", zap.Error(redactErr(err, c.cfg.Credential)))
	return &Error{Kind: KindTransport, Message: "backend unreachable", Err: err}
}

func (c httpClient) observe(start time.Time, be *Error) {
	result := "success"
	if be != nil {
		result = be.Kind.String()
	}
	metrics.BackendLatency.WithLabelValues(string(c.kind), result).Observe(time.Since(start).Seconds())
}

// malformed builds a KindMalformed error for a 2xx answer.
func (c httpClient) malformed(status int, reason string, cause error) *Error {
	c.logger.Warn("backend response has unexpected shape", zap.String("reason", reason), zap.Int("status", status))
	return &Error{
		Kind:    KindMalformed,
		Status:  status,
		Message: "backend returned an unexpected response: " + reason,
		Err:     cause,
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// upstreamMessage extracts a human readable message from an error body.
func upstreamMessage(status int, body []byte, credential string) string {
	msg := strings.TrimSpace(string(body))

	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) == nil {
		for _, field := range []string{"error", "detail", "message"} {
			raw, ok := obj[field]
			if !ok {
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				msg = s
			} else {
				msg = string(raw)
			}
			break
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return truncate(redact(msg, credential), maxMessageBytes)
}

func redact(s, credential string) string {
	if credential == "" {
		return s
	}
	return strings.ReplaceAll(s, credential, redacted)
}

func redactErr(err error, credential string) error {
	if credential == "" || !strings.Contains(err.Error(), credential) {
		return err
	}
	return errors.New(redact(err.Error(), credential))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// completion strips an echoed prompt and rejects empty output.
func completion(prompt, text string) (string, bool) {
	text = strings.TrimPrefix(text, prompt)
	text = strings.TrimSpace(text)
	return text, text != ""
}
