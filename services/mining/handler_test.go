package mining

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/middleware"
	"minerush-rewardplane/pkg/ratelimit"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/identity"
	"minerush-rewardplane/services/reward"
	"minerush-rewardplane/services/status"
	"minerush-rewardplane/services/team"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type statusStoreMock struct {
	registerFn func(ctx context.Context, key, userID string) (bool, *status.Request, error)
	getFn      func(ctx context.Context, key string) (*status.Request, error)
}

func (m *statusStoreMock) Register(ctx context.Context, key, userID string) (bool, *status.Request, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, key, userID)
	}
	now := time.Now().UTC()
	return true, &status.Request{IdempotencyKey: key, UserID: userID, Status: status.StatusQueued, CreatedAt: now}, nil
}

func (m *statusStoreMock) Get(ctx context.Context, key string) (*status.Request, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, nil
}

type enqueuerMock struct {
	enqueueFn func(ctx context.Context, key, userID, traceID string) error
	depth     int
	enqueued  []string
}

func (m *enqueuerMock) EnqueueMiningReward(ctx context.Context, key, userID, traceID string) error {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, key, userID, traceID)
	}
	m.enqueued = append(m.enqueued, key)
	return nil
}

func (m *enqueuerMock) QueueDepth(context.Context) int { return m.depth }

type rewardAPIMock struct {
	maturityFn func(ctx context.Context, userID string) (*reward.Balance, reward.Maturity, error)
	withdrawFn func(ctx context.Context, userID string, amount int64) (*reward.LedgerTransaction, error)
}

func (m *rewardAPIMock) GetMaturity(ctx context.Context, userID string) (*reward.Balance, reward.Maturity, error) {
	if m.maturityFn != nil {
		return m.maturityFn(ctx, userID)
	}
	return &reward.Balance{UserID: userID}, reward.Maturity{}, nil
}

func (m *rewardAPIMock) RequestWithdraw(ctx context.Context, userID string, amount int64) (*reward.LedgerTransaction, error) {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID, amount)
	}
	return &reward.LedgerTransaction{ID: "tx1", UserID: userID, Amount: amount, Status: reward.TxStatusPending}, nil
}

type teamAPIMock struct {
	claimFn   func(ctx context.Context, receiverID string) (*reward.LedgerTransaction, int64, error)
	pendingFn func(ctx context.Context, receiverID string) ([]team.BonusPayout, error)
}

func (m *teamAPIMock) Claim(ctx context.Context, receiverID string) (*reward.LedgerTransaction, int64, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, receiverID)
	}
	return nil, 0, team.ErrNothingToClaim
}

func (m *teamAPIMock) PendingPayouts(ctx context.Context, receiverID string) ([]team.BonusPayout, error) {
	if m.pendingFn != nil {
		return m.pendingFn(ctx, receiverID)
	}
	return nil, nil
}

type accountReaderMock struct {
	getFn func(ctx context.Context, id string) (*account.Account, error)
}

func (m *accountReaderMock) Get(ctx context.Context, id string) (*account.Account, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &account.Account{ID: id, DepositTotal: 10_000, IsActive: true}, nil
}

type fixture struct {
	router   *gin.Engine
	statuses *statusStoreMock
	queue    *enqueuerMock
	rewards  *rewardAPIMock
	teams    *teamAPIMock
	accounts *accountReaderMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.RateLimit.Routes = map[string]config.RouteLimit{
		"mining_click": {TokensPerInterval: 100, Interval: time.Second, MaxTokens: 100},
	}

	f := &fixture{
		statuses: &statusStoreMock{},
		queue:    &enqueuerMock{depth: 3},
		rewards:  &rewardAPIMock{},
		teams:    &teamAPIMock{},
		accounts: &accountReaderMock{},
	}

	h := NewHandlerWith(cfg, identity.HeaderResolver{}, ratelimit.NewMemoryLimiter(),
		f.statuses, f.queue, f.rewards, f.teams, f.accounts)

	r := gin.New()
	r.Use(middleware.Error())
	h.RegisterRoutes(r)
	f.router = r
	return f
}

func do(f *fixture, method, path, userID, idemKey, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:50000"
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestClickAccepted(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodPost, "/api/v1/mining/click", "u1", "key-1", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "key-1", body["idempotency_key"])
	require.Equal(t, "queued", body["status"])
	require.Equal(t, float64(3), body["queue_depth"])

	require.Equal(t, []string{"key-1"}, f.queue.enqueued)
}

func TestClickRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodPost, "/api/v1/mining/click", "", "key-1", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, f.queue.enqueued)
}

func TestClickRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodPost, "/api/v1/mining/click", "u1", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(f, http.MethodPost, "/api/v1/mining/click", "u1", "bad key with spaces", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, f.queue.enqueued)
}

func TestClickBlockedAccount(t *testing.T) {
	f := newFixture(t)
	f.accounts.getFn = func(ctx context.Context, id string) (*account.Account, error) {
		return &account.Account{ID: id, IsActive: true, IsBlocked: true}, nil
	}

	w := do(f, http.MethodPost, "/api/v1/mining/click", "u1", "key-1", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, f.queue.enqueued)
}

func TestClickDuplicateEchoesExistingState(t *testing.T) {
	f := newFixture(t)
	f.statuses.registerFn = func(ctx context.Context, key, userID string) (bool, *status.Request, error) {
		return false, &status.Request{
			IdempotencyKey: key,
			UserID:         userID,
			Status:         status.StatusCompleted,
			Result:         json.RawMessage(`{"profit_cents":200}`),
		}, nil
	}

	w := do(f, http.MethodPost, "/api/v1/mining/click", "u1", "key-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"profit_cents":200`)
	require.Empty(t, f.queue.enqueued, "duplicate must not re-enqueue")
}

func TestClickRateLimited(t *testing.T) {
	f := newFixture(t)

	// exhaust the single-token bucket with distinct keys
	cfgOne := &config.Config{}
	cfgOne.RateLimit.Routes = map[string]config.RouteLimit{
		"mining_click": {TokensPerInterval: 1, Interval: time.Hour, MaxTokens: 1},
	}
	h := NewHandlerWith(cfgOne, identity.HeaderResolver{}, ratelimit.NewMemoryLimiter(),
		f.statuses, f.queue, f.rewards, f.teams, f.accounts)
	r := gin.New()
	r.Use(middleware.Error())
	h.RegisterRoutes(r)
	f.router = r

	w := do(f, http.MethodPost, "/api/v1/mining/click", "u1", "key-1", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(f, http.MethodPost, "/api/v1/mining/click", "u1", "key-2", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "retry_after_ms")
}

func TestGetRequestLifecycleMapping(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		req      *status.Request
		wantCode int
	}{
		{"queued", &status.Request{UserID: "u1", Status: status.StatusQueued}, http.StatusAccepted},
		{"processing", &status.Request{UserID: "u1", Status: status.StatusProcessing}, http.StatusAccepted},
		{"completed", &status.Request{UserID: "u1", Status: status.StatusCompleted, Result: json.RawMessage(`{}`)}, http.StatusOK},
		{"failed terminal", &status.Request{UserID: "u1", Status: status.StatusFailed, Error: &status.ErrorInfo{Message: "cap"}}, http.StatusConflict},
		{"failed retryable", &status.Request{UserID: "u1", Status: status.StatusFailed, Error: &status.ErrorInfo{Message: "db down", Retryable: true, RetryAfterMs: 4000}}, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.statuses.getFn = func(ctx context.Context, key string) (*status.Request, error) {
				return tc.req, nil
			}
			w := do(f, http.MethodGet, "/api/v1/mining/requests/k1", "u1", "", "")
			require.Equal(t, tc.wantCode, w.Code)
			require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			switch tc.wantCode {
			case http.StatusAccepted:
				require.Equal(t, "3", w.Header().Get("X-Queue-Depth"))
			case http.StatusServiceUnavailable:
				require.Equal(t, "4", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestGetRequestUnknownOrForeignIs404(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodGet, "/api/v1/mining/requests/nope", "u1", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	f.statuses.getFn = func(ctx context.Context, key string) (*status.Request, error) {
		return &status.Request{UserID: "someone-else", Status: status.StatusCompleted}, nil
	}
	w = do(f, http.MethodGet, "/api/v1/mining/requests/k1", "u1", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBalanceIncludesMaturity(t *testing.T) {
	f := newFixture(t)
	next := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	f.rewards.maturityFn = func(ctx context.Context, userID string) (*reward.Balance, reward.Maturity, error) {
		return &reward.Balance{UserID: userID, Current: 10_000},
			reward.Maturity{Withdrawable: 7_000, LockedAmount: 3_000, NextUnlockAt: &next}, nil
	}

	w := do(f, http.MethodGet, "/api/v1/balance", "u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(10_000), body["current_cents"])
	require.Equal(t, float64(7_000), body["withdrawable_cents"])
	require.Equal(t, float64(3_000), body["locked_cents"])
	require.NotEmpty(t, body["next_unlock_at"])
}

func TestRequestWithdraw(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodPost, "/api/v1/withdrawals", "u1", "", `{"amount_cents":4000}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"tx_id":"tx1"`)

	w = do(f, http.MethodPost, "/api/v1/withdrawals", "u1", "", `{"amount_cents":-5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestWithdrawInsufficient(t *testing.T) {
	f := newFixture(t)
	f.rewards.withdrawFn = func(ctx context.Context, userID string, amount int64) (*reward.LedgerTransaction, error) {
		return nil, &reward.Error{Kind: reward.KindBusiness, Code: reward.CodeInsufficient, Message: "requested 9000 exceeds withdrawable 100"}
	}

	w := do(f, http.MethodPost, "/api/v1/withdrawals", "u1", "", `{"amount_cents":9000}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaimTeamRewards(t *testing.T) {
	f := newFixture(t)

	w := do(f, http.MethodPost, "/api/v1/team/claim", "u1", "", "")
	require.Equal(t, http.StatusConflict, w.Code)

	f.teams.claimFn = func(ctx context.Context, receiverID string) (*reward.LedgerTransaction, int64, error) {
		return &reward.LedgerTransaction{ID: "tx9", UserID: receiverID}, 300, nil
	}
	w = do(f, http.MethodPost, "/api/v1/team/claim", "u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"claimed_cents":300`)
}

func TestListTeamRewards(t *testing.T) {
	f := newFixture(t)
	f.teams.pendingFn = func(ctx context.Context, receiverID string) ([]team.BonusPayout, error) {
		return []team.BonusPayout{
			{ID: "p1", Type: team.PayoutTeamEarnL1, PayerUserID: "m1", PayoutAmount: 200},
			{ID: "p2", Type: team.PayoutTeamEarnL2, PayerUserID: "m2", PayoutAmount: 100},
		}, nil
	}

	w := do(f, http.MethodGet, "/api/v1/team/rewards", "u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(300), body["total_pending_cents"])
	require.Len(t, body["payouts"], 2)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := do(f, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}
