package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps bucket state in-process. It exists for tests and local
// single-node runs only; multi-instance deployments must use RedisLimiter so
// admission decisions live in the shared store.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	state     bucketState
	expiresAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Consume(_ context.Context, key string, cfg Config, tokens int64) (Result, error) {
	if tokens <= 0 {
		tokens = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &memoryBucket{state: bucketState{Tokens: cfg.MaxTokens, Last: now}}
		l.buckets[key] = b
	}

	b.state = refill(b.state, now, cfg)
	b.expiresAt = now.Add(bucketTTL(cfg))

	if b.state.Tokens >= tokens {
		b.state.Tokens -= tokens
		return Result{Allowed: true, Remaining: b.state.Tokens}, nil
	}

	deficit := tokens - b.state.Tokens
	return Result{
		Allowed:    false,
		Remaining:  b.state.Tokens,
		RetryAfter: retryAfter(deficit, cfg),
	}, nil
}

// Cleanup removes expired buckets.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.After(b.expiresAt) {
			delete(l.buckets, key)
		}
	}
}
