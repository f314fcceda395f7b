package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedGenerator) Kind() Kind { return KindLocalQueue }

func (s *scriptedGenerator) Generate(context.Context, string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return Result{Text: "ok"}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	if err == nil {
		return Result{Text: "ok"}, nil
	}
	return Result{}, err
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	transport := &Error{Kind: KindTransport, Message: "backend unreachable"}
	next := &scriptedGenerator{errs: []error{transport, transport, transport}}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := WithBreaker(next, BreakerConfig{MaxFailures: 3, Cooldown: time.Minute}, zaptest.NewLogger(t))
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_, err := b.Generate(context.Background(), "p")
		requireBackendError(t, err, KindTransport)
	}
	assert.Equal(t, StateOpen, b.State())

	clock = clock.Add(20 * time.Second)
	_, err := b.Generate(context.Background(), "p")
	be := requireBackendError(t, err, KindUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, be.Status)
	assert.Equal(t, 40*time.Second, be.RetryAfter)
	assert.Contains(t, be.Message, "40s")
	assert.Equal(t, 3, next.calls)

	clock = clock.Add(40 * time.Second)
	res, err := b.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, next.calls)
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	timeout := &Error{Kind: KindTimeout, Message: "slow"}
	next := &scriptedGenerator{errs: []error{timeout, timeout}}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := WithBreaker(next, BreakerConfig{MaxFailures: 1, Cooldown: time.Second}, zaptest.NewLogger(t))
	b.now = func() time.Time { return clock }

	_, _ = b.Generate(context.Background(), "p")
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(time.Second)
	_, err := b.Generate(context.Background(), "p")
	requireBackendError(t, err, KindTimeout)
	assert.Equal(t, StateOpen, b.State())

	_, err = b.Generate(context.Background(), "p")
	requireBackendError(t, err, KindUnavailable)
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	bad := &Error{Kind: KindUpstream, Status: http.StatusBadRequest, Message: "bad"}
	malformed := &Error{Kind: KindMalformed, Status: http.StatusOK, Message: "shape"}
	next := &scriptedGenerator{errs: []error{bad, malformed, bad, malformed}}

	b := WithBreaker(next, BreakerConfig{MaxFailures: 2, Cooldown: time.Minute}, zaptest.NewLogger(t))
	for i := 0; i < 4; i++ {
		_, err := b.Generate(context.Background(), "p")
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, KindLocalQueue, b.Kind())
}

func TestBreakerCountsConsecutiveFailures(t *testing.T) {
	fail := &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: "down"}
	next := &scriptedGenerator{errs: []error{fail, nil, fail, nil, fail}}

	b := WithBreaker(next, BreakerConfig{MaxFailures: 2, Cooldown: time.Minute}, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		_, _ = b.Generate(context.Background(), "p")
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	b := WithBreaker(newGenerator(t, KindLocalQueue, slow.URL),
		BreakerConfig{MaxFailures: 3, Cooldown: time.Minute}, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := b.Generate(ctx, "p")
		requireBackendError(t, err, KindCanceled)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCancelledProbeKeepsHalfOpen(t *testing.T) {
	timeout := &Error{Kind: KindTimeout, Message: "slow"}
	canceled := &Error{Kind: KindCanceled, Message: "request canceled by client"}
	next := &scriptedGenerator{errs: []error{timeout, canceled, nil}}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := WithBreaker(next, BreakerConfig{MaxFailures: 1, Cooldown: time.Second}, zaptest.NewLogger(t))
	b.now = func() time.Time { return clock }

	_, _ = b.Generate(context.Background(), "p")
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(time.Second)
	_, err := b.Generate(context.Background(), "p")
	requireBackendError(t, err, KindCanceled)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}
