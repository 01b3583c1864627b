package status

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("status.store",
	fx.Provide(NewStore),
)

// Store keeps reward request lifecycle state in Redis so the HTTP handlers
// and the worker (separate processes) observe the same truth with
// read-your-writes consistency.
type Store struct {
	rdb         redis.UniversalClient
	pendingTTL  time.Duration
	terminalTTL time.Duration
}

type StoreParams struct {
	fx.In
	Redis  *redis.Client
	Config *config.Config
}

func NewStore(p StoreParams) *Store {
	return &Store{
		rdb:         p.Redis,
		pendingTTL:  p.Config.Status.PendingTTL,
		terminalTTL: p.Config.Status.TerminalTTL,
	}
}

// NewStoreWithTTL constructs a store with explicit TTLs, bypassing config.
func NewStoreWithTTL(rdb redis.UniversalClient, pendingTTL, terminalTTL time.Duration) *Store {
	return &Store{rdb: rdb, pendingTTL: pendingTTL, terminalTTL: terminalTTL}
}

// Register creates the queued record for a new idempotency key. When the key
// already exists the existing record is returned and nothing is written, so
// duplicate submissions collapse onto the first request.
func (s *Store) Register(ctx context.Context, key, userID string) (created bool, existing *Request, err error) {
	now := time.Now().UTC()
	req := &Request{
		IdempotencyKey: key,
		UserID:         userID,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return false, nil, err
	}

	ok, err := s.rdb.SetNX(ctx, rediskey.BuildRewardRequestKey(key), payload, s.pendingTTL).Result()
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, req, nil
	}

	existing, err = s.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		// the old record expired between SETNX and GET; treat as fresh
		return s.Register(ctx, key, userID)
	}
	return false, existing, nil
}

// Get returns the request for the key, or nil when unknown/expired.
func (s *Store) Get(ctx context.Context, key string) (*Request, error) {
	raw, err := s.rdb.Get(ctx, rediskey.BuildRewardRequestKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Transition mutates the request and persists it. Terminal states are
// re-written with the shorter terminal TTL so slow pollers still see the
// outcome for a bounded window. A missing record is recreated so the worker
// can always leave a terminal status behind.
func (s *Store) Transition(ctx context.Context, key string, mutate func(*Request)) (*Request, error) {
	req, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if req == nil {
		now := time.Now().UTC()
		req = &Request{IdempotencyKey: key, Status: StatusQueued, CreatedAt: now}
		zap.L().Warn("status record expired mid-flight, recreating", zap.String("idempotency_key", key))
	}

	mutate(req)
	req.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ttl := s.pendingTTL
	if req.Terminal() {
		ttl = s.terminalTTL
	}

	if err := s.rdb.Set(ctx, rediskey.BuildRewardRequestKey(key), payload, ttl).Err(); err != nil {
		return nil, err
	}
	return req, nil
}
