package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/common/apiutil"
	"github.com/Aidin1998/optigate/common/errors"
	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/history"
	"github.com/Aidin1998/optigate/internal/optimizer"
	"github.com/Aidin1998/optigate/internal/ratelimit"
)

const (
	maxBodyBytes = 1 << 20
	// statusClientClosedRequest is the nginx convention for a request the
	// client abandoned.
	statusClientClosedRequest = 499
)

// OptimizeRequest is the body of POST /api/v1/optimize. Prompt is accepted
// as an alias of Action for older clients.
type OptimizeRequest struct {
	Text   string `json:"text" validate:"required"`
	Action string `json:"action" validate:"required"`
	Prompt string `json:"prompt,omitempty"`
}

// OptimizeResponse is the success body of POST /api/v1/optimize.
type OptimizeResponse struct {
	FormattedText string `json:"formatted_text"`
	Action        string `json:"action"`
	Cached        bool   `json:"cached"`
}

// ActionResponse describes one available action.
type ActionResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// HistoryResponse lists a caller's recent completions.
type HistoryResponse struct {
	Items []history.Entry `json:"items"`
}

func (s *Server) optimize(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiutil.RFC7807ValidationErrorResponse(c, "request body must be a JSON object with text and action")
		return
	}
	if req.Action == "" {
		req.Action = req.Prompt
	}
	if fieldErrs := s.validator.Validate(req); fieldErrs != nil {
		apiutil.RFC7807ValidationErrorResponse(c, "invalid request", fieldErrs...)
		return
	}

	id := identityFrom(c)
	out := s.optimizer.Optimize(c.Request.Context(), optimizer.Request{Text: req.Text, Action: req.Action}, id.Key)
	s.writeOutcome(c, out)
}

// writeOutcome maps an optimization outcome to an HTTP response.
func (s *Server) writeOutcome(c *gin.Context, out optimizer.Outcome) {
	instance := c.Request.URL.Path

	switch out.Kind {
	case optimizer.OutcomeSuccess:
		setRateLimitHeaders(c, out.Decision())
		c.JSON(http.StatusOK, OptimizeResponse{FormattedText: out.Text, Action: out.Action, Cached: out.Cached})

	case optimizer.OutcomeValidationError:
		apiutil.RFC7807ErrorResponse(c, errors.NewValidationError(out.Message, instance))

	case optimizer.OutcomeRateLimited:
		d := out.Decision()
		setRateLimitHeaders(c, d)
		apiutil.RFC7807ErrorResponse(c, errors.NewRateLimitError(out.Message, instance, ratelimit.RetryAfterSeconds(d.RetryAfter)))

	case optimizer.OutcomeBackendError:
		var problem *errors.ProblemDetails
		switch out.BackendKind {
		case backend.KindTimeout:
			problem = errors.NewBackendTimeoutError(out.Message, instance)
		case backend.KindUnavailable:
			secs := ratelimit.RetryAfterSeconds(out.RetryAfter)
			problem = errors.NewBackendUnavailableError(out.Message, instance)
			problem.RetryAfter = secs
			c.Header("Retry-After", strconv.Itoa(secs))
		case backend.KindCanceled:
			// The client is gone; nobody reads the body.
			c.AbortWithStatus(statusClientClosedRequest)
			return
		default:
			problem = errors.NewBackendError(out.Message, instance)
		}
		apiutil.RFC7807ErrorResponse(c, problem)

	default:
		s.logger.Error("unhandled optimization outcome", zap.Stringer("kind", out.Kind))
		apiutil.RFC7807InternalServerErrorResponse(c, "An unexpected error occurred")
	}
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit == 0 && d.Allowed {
		return
	}
	for k, v := range d.Headers() {
		c.Header(k, v)
	}
}

func (s *Server) listActions(c *gin.Context) {
	templates := s.optimizer.Templates()
	out := make([]ActionResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, ActionResponse{Key: t.Key, Label: t.Label})
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		apiutil.RFC7807NotFoundResponse(c, "history is disabled")
		return
	}
	id := identityFrom(c)
	entries, err := s.history.Recent(c.Request.Context(), id.Key)
	if err != nil {
		s.logger.Error("failed to read history", zap.String("client", id.Key), zap.Error(err))
		apiutil.RFC7807InternalServerErrorResponse(c, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Items: entries})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": s.optimizer.BackendKind(),
	})
}
