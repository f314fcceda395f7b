package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RedisLimiterSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
}

func (s *RedisLimiterSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func (s *RedisLimiterSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func (s *RedisLimiterSuite) limiter(limit int, window time.Duration) *RedisLimiter {
	rl, err := NewRedisLimiter(s.client, limit, window, "rl:")
	s.Require().NoError(err)
	return rl
}

func (s *RedisLimiterSuite) TestFiveThenReject() {
	rl := s.limiter(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := rl.Admit(ctx, "ip:1.2.3.4", t0.Add(time.Duration(i)*time.Second))
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(4-i, d.Remaining)
	}

	d, err := rl.Admit(ctx, "ip:1.2.3.4", t0.Add(10*time.Second))
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Equal(50*time.Second, d.RetryAfter)

	d, err = rl.Admit(ctx, "ip:1.2.3.4", t0.Add(time.Minute))
	s.Require().NoError(err)
	s.True(d.Allowed)

	s.True(s.mr.Exists("rl:ip:1.2.3.4"))
}

func (s *RedisLimiterSuite) TestIndependentKeys() {
	rl := s.limiter(1, time.Minute)
	ctx := context.Background()

	d, _ := rl.Admit(ctx, "a", t0)
	s.True(d.Allowed)
	d, _ = rl.Admit(ctx, "a", t0)
	s.False(d.Allowed)
	d, _ = rl.Admit(ctx, "b", t0)
	s.True(d.Allowed)
}

func (s *RedisLimiterSuite) TestConcurrentSingleSlot() {
	rl := s.limiter(1, time.Minute)
	ctx := context.Background()

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.Admit(ctx, "user:42", t0)
			if err == nil && d.Allowed {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), admitted)
}

func (s *RedisLimiterSuite) TestStoreFailure() {
	rl := s.limiter(1, time.Minute)
	s.Require().NoError(s.client.Close())

	_, err := rl.Admit(context.Background(), "k", t0)
	s.Error(err)
}

func TestRedisLimiterSuite(t *testing.T) {
	suite.Run(t, new(RedisLimiterSuite))
}

func TestNewRedisLimiter_Invalid(t *testing.T) {
	_, err := NewRedisLimiter(nil, 1, time.Minute, "")
	require.ErrorIs(t, err, ErrInvalidConfig)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	_, err = NewRedisLimiter(client, 0, time.Minute, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
