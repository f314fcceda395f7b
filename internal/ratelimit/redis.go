// redis.go: Redis-backed sliding window for multi-replica deployments
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scores are unix microseconds; nanoseconds overflow the 53-bit mantissa of
// a sorted-set score. Members get a random suffix so simultaneous calls do
// not collapse into one entry.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = now
if oldest[2] then
  score = tonumber(oldest[2])
end
return {0, count, score}
`)

// RedisLimiter applies the sliding window algorithm atomically in Redis so
// that several gateway replicas share one budget per key.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a limiter allowing maxCalls per window per key.
// Keys are stored as prefix+key.
func NewRedisLimiter(client redis.Scripter, maxCalls int, window time.Duration, prefix string) (*RedisLimiter, error) {
	if err := validate(maxCalls, window); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	return &RedisLimiter{client: client, limit: maxCalls, window: window, prefix: prefix}, nil
}

// Admit runs the window script for key.
func (rl *RedisLimiter) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	nowMicros := now.UnixMicro()
	member := fmt.Sprintf("%d-%s", nowMicros, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, rl.client, []string{rl.prefix + key},
		nowMicros, rl.window.Microseconds(), rl.limit, member).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldest, _ := vals[2].(int64)

	if allowed == 1 {
		return Decision{Allowed: true, Limit: rl.limit, Remaining: rl.limit - int(count)}, nil
	}
	retry := time.Duration(oldest+rl.window.Microseconds()-nowMicros) * time.Microsecond
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, Limit: rl.limit, Remaining: 0, RetryAfter: retry}, nil
}
