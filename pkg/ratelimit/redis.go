package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(rdb *redis.Client) Limiter { return NewRedisLimiter(rdb) }),
)

// consumeScript performs refill-and-consume in one server-side step so
// concurrent callers for the same key cannot race. It mirrors refill() in
// ratelimit.go; keep the two in sync.
//
// KEYS[1] bucket key
// ARGV: tokensPerInterval, intervalMs, maxTokens, requested, nowMs, ttlMs
// Returns: {allowed, remaining, retryAfterMs}
var consumeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = max
  last = now
end

local elapsed = now - last
if elapsed > 0 then
  local added = math.floor(elapsed * rate / interval)
  if added > 0 then
    tokens = tokens + added
    if tokens >= max then
      tokens = max
      last = now
    else
      last = last + math.floor(added * interval / rate)
    end
  end
end

local allowed = 0
local retry_ms = 0
if tokens >= requested then
  allowed = 1
  tokens = tokens - requested
else
  local deficit = requested - tokens
  retry_ms = math.ceil(deficit * interval / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_ms', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens, retry_ms}
`)

// RedisLimiter is the shared-store limiter used across server instances. No
// process-local state is authoritative.
type RedisLimiter struct {
	rdb redis.UniversalClient
}

func NewRedisLimiter(rdb redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, cfg Config, tokens int64) (Result, error) {
	if tokens <= 0 {
		tokens = 1
	}

	raw, err := consumeScript.Run(ctx, l.rdb, []string{key},
		cfg.TokensPerInterval,
		cfg.Interval.Milliseconds(),
		cfg.MaxTokens,
		tokens,
		time.Now().UnixMilli(),
		bucketTTL(cfg).Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit consume: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit consume: unexpected reply %v", raw)
	}

	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	retryMs, _ := vals[2].(int64)

	return Result{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
