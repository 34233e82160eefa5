package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rryowa/basicauth/internal/models"
)

const redisKeyPrefix = "basic-auth:rl:"

// KEYS[1] bucket, ARGV: now ms, window ms, limit, member.
// Returns {allowed, count, retryAfterMs}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local retry = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisLimiter keeps one sorted set per key so limits hold across processes.
// Expiry on every key replaces the in-memory sweep.
type RedisLimiter struct {
	redis redis.UniversalClient
	rules map[models.Operation]Rule
	now   func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.UniversalClient, rules map[models.Operation]Rule, now func() time.Time) *RedisLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{redis: client, rules: rules, now: now}
}

func (l *RedisLimiter) Allow(ctx context.Context, subject string, op models.Operation) (Decision, error) {
	rule, ok := l.rules[op]
	if !ok {
		return Decision{}, ErrUnknownOperation
	}

	raw, err := slidingWindowLua.Run(
		ctx,
		l.redis,
		[]string{redisKeyPrefix + KeyFor(subject, op)},
		l.now().UnixMilli(),
		rule.Window.Milliseconds(),
		rule.MaxRequests,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrBackendFailure, raw)
	}

	decision := Decision{
		Allowed:   raw[0] == 1,
		Limit:     rule.MaxRequests,
		Remaining: max(0, rule.MaxRequests-int(raw[1])),
	}
	if !decision.Allowed {
		decision.Remaining = 0
		decision.RetryAfter = ceilSeconds(time.Duration(raw[2]) * time.Millisecond)
	}
	return decision, nil
}
