package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/optigate/api"
	"github.com/Aidin1998/optigate/internal/auth"
	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/history"
	"github.com/Aidin1998/optigate/internal/optimizer"
	"github.com/Aidin1998/optigate/internal/prompt"
	"github.com/Aidin1998/optigate/internal/ratelimit"
)

const jwtSecret = "api-test-secret"

type stubGenerator struct {
	mu   sync.Mutex
	text string
	err  error
	hits int
}

func (g *stubGenerator) Kind() backend.Kind { return backend.KindRemoteHosted }

func (g *stubGenerator) Generate(context.Context, string) (backend.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hits++
	if g.err != nil {
		return backend.Result{}, g.err
	}
	return backend.Result{Text: g.text, Status: http.StatusOK}, nil
}

type stubHistory struct {
	entries map[string][]history.Entry
	err     error
}

func (h *stubHistory) Recent(_ context.Context, clientID string) ([]history.Entry, error) {
	return h.entries[clientID], h.err
}

type ServerSuite struct {
	suite.Suite
	gen     *stubGenerator
	history *stubHistory
	router  *gin.Engine
}

func (s *ServerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(s.T())

	s.gen = &stubGenerator{text: "The cat."}
	limiter, err := ratelimit.NewSlidingWindow(2, time.Minute)
	s.Require().NoError(err)
	svc, err := optimizer.New(optimizer.Options{
		Registry:  prompt.Default(),
		Generator: s.gen,
		Limiter:   limiter,
		Logger:    logger,
	})
	s.Require().NoError(err)

	resolver, err := auth.NewJWTResolver(auth.Config{JWTSecret: jwtSecret})
	s.Require().NoError(err)

	s.history = &stubHistory{entries: map[string][]history.Entry{
		"user:alice": {{Action: "polish", Input: "hi", Output: "Hi."}},
	}}
	s.router = api.NewServer(api.Options{
		Logger:    logger,
		Optimizer: svc,
		Resolver:  resolver,
		History:   s.history,
	}).Router()
}

func (s *ServerSuite) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ServerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func (s *ServerSuite) token(sub string) string {
	t, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: sub}).SignedString([]byte(jwtSecret))
	s.Require().NoError(err)
	return "Bearer " + t
}

func (s *ServerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/api/v1/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("ok", body["status"])
	s.Equal("remote_hosted", body["backend"])
}

func (s *ServerSuite) TestActions() {
	w := s.do(http.MethodGet, "/api/v1/actions", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	actions := s.decode(w)["actions"].([]any)
	s.Len(actions, 8)
	first := actions[0].(map[string]any)
	s.Equal("polish", first["key"])
	s.Equal("Polish Writing", first["label"])
}

func (s *ServerSuite) TestOptimizeSuccess() {
	w := s.do(http.MethodPost, "/api/v1/optimize", `{"text":"teh cat","action":"Fix Grammar"}`, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	body := s.decode(w)
	s.Equal("The cat.", body["formatted_text"])
	s.Equal("fix-grammar", body["action"])
	s.Equal(false, body["cached"])
	s.Equal("2", w.Header().Get("X-RateLimit-Limit"))
	s.Equal("1", w.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *ServerSuite) TestOptimizePromptAlias() {
	w := s.do(http.MethodPost, "/api/v1/optimize", `{"text":"hello","prompt":"simplify"}`, nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *ServerSuite) TestOptimizeValidation() {
	cases := map[string]string{
		"not json":       `{`,
		"missing text":   `{"action":"polish"}`,
		"missing action": `{"text":"hello"}`,
		"unknown action": `{"text":"hello","action":"translate"}`,
		"blank text":     `{"text":"   ","action":"polish"}`,
	}
	for name, body := range cases {
		w := s.do(http.MethodPost, "/api/v1/optimize", body, map[string]string{"X-Request-ID": "req-" + name})
		s.Equal(http.StatusBadRequest, w.Code, name)
		s.Equal("application/problem+json", w.Header().Get("Content-Type"), name)
		s.Equal("req-"+name, s.decode(w)["traceId"], name)
	}
	s.Equal(0, s.gen.hits)
}

func (s *ServerSuite) TestOptimizeRateLimited() {
	body := `{"text":"hello","action":"polish"}`
	for i := 0; i < 2; i++ {
		s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/optimize", body, nil).Code)
	}
	w := s.do(http.MethodPost, "/api/v1/optimize", body, nil)
	s.Require().Equal(http.StatusTooManyRequests, w.Code)
	s.NotEmpty(w.Header().Get("Retry-After"))
	s.Equal("0", w.Header().Get("X-RateLimit-Remaining"))
	s.Equal(2, s.gen.hits)

	// A different identity has its own window.
	w = s.do(http.MethodPost, "/api/v1/optimize", body, map[string]string{"Authorization": s.token("bob")})
	s.Equal(http.StatusOK, w.Code)
}

func (s *ServerSuite) TestOptimizeBackendErrors() {
	cases := []struct {
		err    error
		status int
	}{
		{&backend.Error{Kind: backend.KindUpstream, Status: 500, Message: "model failed"}, http.StatusBadGateway},
		{&backend.Error{Kind: backend.KindMalformed, Status: 200, Message: "bad shape"}, http.StatusBadGateway},
		{&backend.Error{Kind: backend.KindTimeout, Message: "slow"}, http.StatusGatewayTimeout},
		{&backend.Error{Kind: backend.KindUnavailable, Status: 503, Message: "breaker open", RetryAfter: 45 * time.Second}, http.StatusServiceUnavailable},
	}
	for i, tc := range cases {
		s.gen.err = tc.err
		headers := map[string]string{"Authorization": s.token("user" + string(rune('a'+i)))}
		w := s.do(http.MethodPost, "/api/v1/optimize", `{"text":"hello","action":"polish"}`, headers)
		s.Equal(tc.status, w.Code)
		be, _ := backend.AsError(tc.err)
		body := s.decode(w)
		s.Equal(be.Message, body["detail"])
		if be.Kind == backend.KindUnavailable {
			s.Equal("45", w.Header().Get("Retry-After"))
			s.EqualValues(45, body["retryAfter"])
		}
	}
}

func (s *ServerSuite) TestOptimizeClientGone() {
	s.gen.err = &backend.Error{Kind: backend.KindCanceled, Message: "request canceled by client"}
	w := s.do(http.MethodPost, "/api/v1/optimize", `{"text":"hello","action":"polish"}`, nil)
	s.Equal(499, w.Code)
	s.Empty(w.Body.String())
}

func (s *ServerSuite) TestInvalidToken() {
	w := s.do(http.MethodPost, "/api/v1/optimize", `{"text":"hello","action":"polish"}`,
		map[string]string{"Authorization": "Bearer nope"})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal(0, s.gen.hits)
}

func (s *ServerSuite) TestHistory() {
	w := s.do(http.MethodGet, "/api/v1/history", "", map[string]string{"Authorization": s.token("alice")})
	s.Require().Equal(http.StatusOK, w.Code)
	items := s.decode(w)["items"].([]any)
	s.Len(items, 1)

	w = s.do(http.MethodGet, "/api/v1/history", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Empty(s.decode(w)["items"])

	s.history.err = errors.New("db down")
	w = s.do(http.MethodGet, "/api/v1/history", "", nil)
	s.Equal(http.StatusInternalServerError, w.Code)
	s.NotContains(w.Body.String(), "db down")
}

func (s *ServerSuite) TestNotFoundAndMetrics() {
	w := s.do(http.MethodGet, "/api/v1/nope", "", nil)
	s.Equal(http.StatusNotFound, w.Code)

	s.do(http.MethodGet, "/api/v1/health", "", nil)
	w = s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.True(strings.Contains(w.Body.String(), "optigate_http_requests_total"))
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func TestHistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, err := ratelimit.NewSlidingWindow(1, time.Minute)
	require.NoError(t, err)
	svc, err := optimizer.New(optimizer.Options{Registry: prompt.Default(), Generator: &stubGenerator{}, Limiter: limiter})
	require.NoError(t, err)

	router := api.NewServer(api.Options{Optimizer: svc}).Router()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
