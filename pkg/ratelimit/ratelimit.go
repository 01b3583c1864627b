package ratelimit

import (
	"context"
	"time"
)

// Config describes one token bucket: tokens refill at TokensPerInterval per
// Interval and accumulate up to MaxTokens.
type Config struct {
	TokensPerInterval int64
	Interval          time.Duration
	MaxTokens         int64
}

// Result is the outcome of a single consume attempt. RetryAfter is only set
// when the request was rejected.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per key. Implementations must make the
// refill-and-consume step atomic across concurrent callers sharing a key.
type Limiter interface {
	Consume(ctx context.Context, key string, cfg Config, tokens int64) (Result, error)
}

type bucketState struct {
	Tokens int64
	Last   time.Time
}

// refill applies lazy refill from elapsed wall time. Tokens accrue one at a
// time (Interval/TokensPerInterval per token); the last-refill timestamp only
// advances by whole tokens so fractional progress is never lost.
func refill(state bucketState, now time.Time, cfg Config) bucketState {
	elapsedMs := now.Sub(state.Last).Milliseconds()
	if elapsedMs <= 0 {
		return state
	}
	added := elapsedMs * cfg.TokensPerInterval / cfg.Interval.Milliseconds()
	if added <= 0 {
		return state
	}
	state.Tokens += added
	if state.Tokens >= cfg.MaxTokens {
		state.Tokens = cfg.MaxTokens
		state.Last = now
	} else {
		state.Last = state.Last.Add(time.Duration(added*cfg.Interval.Milliseconds()/cfg.TokensPerInterval) * time.Millisecond)
	}
	return state
}

// retryAfter reports how long until `deficit` more tokens have refilled.
func retryAfter(deficit int64, cfg Config) time.Duration {
	intervalMs := cfg.Interval.Milliseconds()
	ms := (deficit*intervalMs + cfg.TokensPerInterval - 1) / cfg.TokensPerInterval
	return time.Duration(ms) * time.Millisecond
}

// bucketTTL bounds how long idle bucket state is kept.
func bucketTTL(cfg Config) time.Duration {
	ttl := 10 * cfg.Interval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
