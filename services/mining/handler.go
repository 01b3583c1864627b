package mining

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/errutil"
	"minerush-rewardplane/pkg/middleware"
	"minerush-rewardplane/pkg/ratelimit"
	"minerush-rewardplane/pkg/rediskey"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/identity"
	"minerush-rewardplane/services/reward"
	"minerush-rewardplane/services/status"
	"minerush-rewardplane/services/team"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const clickRoute = "mining_click"

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// StatusStore is the subset of the status store the handlers use.
type StatusStore interface {
	Register(ctx context.Context, key, userID string) (bool, *status.Request, error)
	Get(ctx context.Context, key string) (*status.Request, error)
}

// Enqueuer submits reward jobs and reports queue depth.
type Enqueuer interface {
	EnqueueMiningReward(ctx context.Context, key, userID, traceID string) error
	QueueDepth(ctx context.Context) int
}

// RewardAPI is the engine surface exposed over HTTP.
type RewardAPI interface {
	GetMaturity(ctx context.Context, userID string) (*reward.Balance, reward.Maturity, error)
	RequestWithdraw(ctx context.Context, userID string, amount int64) (*reward.LedgerTransaction, error)
}

// TeamAPI is the team rewards surface exposed over HTTP.
type TeamAPI interface {
	Claim(ctx context.Context, receiverID string) (*reward.LedgerTransaction, int64, error)
	PendingPayouts(ctx context.Context, receiverID string) ([]team.BonusPayout, error)
}

// AccountReader gates requests on account state.
type AccountReader interface {
	Get(ctx context.Context, id string) (*account.Account, error)
}

type Handler struct {
	cfg      *config.Config
	resolver identity.Resolver
	limiter  ratelimit.Limiter
	statuses StatusStore
	queue    Enqueuer
	rewards  RewardAPI
	teams    TeamAPI
	accounts AccountReader
}

type HandlerParams struct {
	fx.In
	Config   *config.Config
	Resolver identity.Resolver
	Limiter  ratelimit.Limiter
	Statuses *status.Store
	Queue    *reward.Enqueuer
	Rewards  *reward.Service
	Teams    *team.Service
	Accounts *account.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:      p.Config,
		resolver: p.Resolver,
		limiter:  p.Limiter,
		statuses: p.Statuses,
		queue:    p.Queue,
		rewards:  p.Rewards,
		teams:    p.Teams,
		accounts: p.Accounts,
	}
}

// NewHandlerWith wires the handler from interfaces directly; tests use it to
// substitute fakes.
func NewHandlerWith(cfg *config.Config, resolver identity.Resolver, limiter ratelimit.Limiter,
	statuses StatusStore, queue Enqueuer, rewards RewardAPI, teams TeamAPI, accounts AccountReader) *Handler {
	return &Handler{
		cfg:      cfg,
		resolver: resolver,
		limiter:  limiter,
		statuses: statuses,
		queue:    queue,
		rewards:  rewards,
		teams:    teams,
		accounts: accounts,
	}
}

// RegisterRoutes mounts the API. Every response under /api/v1 is per-caller
// state, so the group disables caching wholesale.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	})

	api.POST("/mining/click",
		middleware.RateLimit(h.limiter, clickRoute, h.cfg.Route(clickRoute)),
		h.Click,
	)
	api.GET("/mining/requests/:key", h.GetRequest)
	api.GET("/balance", h.GetBalance)
	api.POST("/withdrawals", h.RequestWithdraw)
	api.POST("/team/claim", h.ClaimTeamRewards)
	api.GET("/team/rewards", h.ListTeamRewards)
}

func (h *Handler) principal(c *gin.Context) (*identity.Principal, bool) {
	p, err := h.resolver.Resolve(c.Request)
	if err != nil {
		c.Error(errutil.Unauthorized("identity resolution failed", err))
		return nil, false
	}
	if p == nil {
		c.Error(errutil.Unauthorized("missing identity", nil))
		return nil, false
	}
	return p, true
}

// Click admits one mining click: identity, account gate, per-user token
// bucket, idempotent status registration, enqueue. Business logic lives in
// the worker; this handler only decides whether the job may enter the queue.
func (h *Handler) Click(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if !idempotencyKeyPattern.MatchString(key) {
		c.Error(errutil.BadRequest("missing or malformed Idempotency-Key header", nil))
		return
	}

	acct, err := h.accounts.Get(c.Request.Context(), p.UserID)
	if err != nil {
		c.Error(errutil.Internal("account lookup failed", err))
		return
	}
	if acct == nil {
		c.Error(errutil.NotFound("account not found", nil))
		return
	}
	if acct.IsBlocked {
		c.Error(errutil.Forbidden("account is blocked", nil))
		return
	}

	if !h.consumeUserBucket(c, p.UserID) {
		return
	}

	created, existing, err := h.statuses.Register(c.Request.Context(), key, p.UserID)
	if err != nil {
		c.Error(errutil.Unavailable("status store unavailable", err))
		return
	}
	if !created {
		// duplicate submission collapses onto the first request
		if existing.UserID != p.UserID {
			c.Error(errutil.NotFound("unknown request", nil))
			return
		}
		h.renderStatus(c, existing)
		return
	}

	traceID := trace.SpanFromContext(c.Request.Context()).SpanContext().TraceID().String()
	if err := h.queue.EnqueueMiningReward(c.Request.Context(), key, p.UserID, traceID); err != nil {
		zap.L().Error("enqueue failed", zap.String("idempotency_key", key), zap.Error(err))
		c.Error(errutil.Unavailable("queue unavailable", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"idempotency_key": key,
		"status":          status.StatusQueued,
		"queue_depth":     h.queue.QueueDepth(c.Request.Context()),
	})
}

// consumeUserBucket applies the per-user token bucket for the click route.
// Returns false when the request has been answered.
func (h *Handler) consumeUserBucket(c *gin.Context, userID string) bool {
	rl := h.cfg.Route(clickRoute)
	res, err := h.limiter.Consume(
		c.Request.Context(),
		rediskey.BuildRateLimitKey(clickRoute, "user:"+userID),
		ratelimit.Config{
			TokensPerInterval: rl.TokensPerInterval,
			Interval:          rl.Interval,
			MaxTokens:         rl.MaxTokens,
		},
		1,
	)
	if err != nil {
		zap.L().Warn("rate limiter unavailable",
			zap.String("route", clickRoute),
			zap.Bool("fail_open", rl.FailOpen),
			zap.Error(err),
		)
		if rl.FailOpen {
			return true
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errutil.BaseError{
			Code:    errutil.StatusServiceUnavailable,
			Message: "admission control unavailable",
		}.JSON())
		return false
	}
	if !res.Allowed {
		retrySec := int64(res.RetryAfter.Seconds())
		if retrySec < 1 {
			retrySec = 1
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retrySec))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":           errutil.StatusTooManyRequests,
				"message":        "too many requests",
				"retryable":      true,
				"retry_after_ms": res.RetryAfter.Milliseconds(),
			},
		})
		return false
	}
	return true
}

// GetRequest polls the lifecycle of a submitted click. A key belonging to a
// different user is indistinguishable from an unknown one.
func (h *Handler) GetRequest(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	key := c.Param("key")
	req, err := h.statuses.Get(c.Request.Context(), key)
	if err != nil {
		c.Error(errutil.Unavailable("status store unavailable", err))
		return
	}
	if req == nil || (req.UserID != p.UserID && p.Role != "admin") {
		c.Error(errutil.NotFound("unknown request", nil))
		return
	}

	h.renderStatus(c, req)
}

func (h *Handler) renderStatus(c *gin.Context, req *status.Request) {
	switch req.Status {
	case status.StatusCompleted:
		c.JSON(http.StatusOK, req)
	case status.StatusFailed:
		if req.Error != nil && req.Error.Retryable {
			retrySec := req.Error.RetryAfterMs / 1000
			if retrySec < 1 {
				retrySec = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retrySec))
			c.JSON(http.StatusServiceUnavailable, req)
			return
		}
		c.JSON(http.StatusConflict, req)
	default:
		c.Header("X-Queue-Depth", fmt.Sprintf("%d", h.queue.QueueDepth(c.Request.Context())))
		c.JSON(http.StatusAccepted, req)
	}
}

// GetBalance returns the balance with its maturity view resolved as of now.
func (h *Handler) GetBalance(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	balance, maturity, err := h.rewards.GetMaturity(c.Request.Context(), p.UserID)
	if err != nil {
		c.Error(errutil.Internal("balance lookup failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":                p.UserID,
		"current_cents":          balance.Current,
		"total_balance_cents":    balance.TotalBalance,
		"total_earning_cents":    balance.TotalEarning,
		"pending_withdraw_cents": balance.PendingWithdraw,
		"team_rewards_available": balance.TeamRewardsAvailable,
		"team_rewards_claimed":   balance.TeamRewardsClaimed,
		"withdrawable_cents":     maturity.Withdrawable,
		"locked_cents":           maturity.LockedAmount,
		"next_unlock_at":         maturity.NextUnlockAt,
	})
}

type withdrawRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required,gt=0"`
}

func (h *Handler) RequestWithdraw(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	var body withdrawRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.ValidationFailed("invalid withdraw request", err))
		return
	}

	tx, err := h.rewards.RequestWithdraw(c.Request.Context(), p.UserID, body.AmountCents)
	if err != nil {
		h.renderRewardError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tx_id":        tx.ID,
		"amount_cents": tx.Amount,
		"status":       tx.Status,
	})
}

func (h *Handler) ClaimTeamRewards(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	tx, total, err := h.teams.Claim(c.Request.Context(), p.UserID)
	if errors.Is(err, team.ErrNothingToClaim) {
		c.Error(errutil.Conflict("no pending team rewards", nil))
		return
	}
	if err != nil {
		c.Error(errutil.Internal("claim failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tx_id":         tx.ID,
		"claimed_cents": total,
		"claimed_at":    time.Now().UTC(),
	})
}

func (h *Handler) ListTeamRewards(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	payouts, err := h.teams.PendingPayouts(c.Request.Context(), p.UserID)
	if err != nil {
		c.Error(errutil.Internal("payout lookup failed", err))
		return
	}

	items := make([]gin.H, 0, len(payouts))
	var total int64
	for _, payout := range payouts {
		total += payout.PayoutAmount
		items = append(items, gin.H{
			"id":            payout.ID,
			"type":          payout.Type,
			"payer_user_id": payout.PayerUserID,
			"base_cents":    payout.BaseAmount,
			"percent_bps":   payout.PercentBps,
			"payout_cents":  payout.PayoutAmount,
			"created_at":    payout.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"total_pending_cents": total, "payouts": items})
}

func (h *Handler) renderRewardError(c *gin.Context, err error) {
	re := reward.AsError(err)
	if re.Kind != reward.KindBusiness {
		c.Error(errutil.Internal("reward operation failed", err))
		return
	}
	switch re.Code {
	case reward.CodeAccountNotFound:
		c.Error(errutil.NotFound(re.Message, nil))
	case reward.CodeAccountBlocked, reward.CodeAccountInactive:
		c.Error(errutil.Forbidden(re.Message, nil))
	default:
		c.Error(errutil.BadRequest(re.Message, nil))
	}
}
