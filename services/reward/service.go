package reward

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/db/option"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/notify"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProfitAccruer records a member's mining profit for the day so the team
// earnings distributor can pay upline shares later. Implemented by the team
// service; an interface here keeps the dependency one-directional.
type ProfitAccruer interface {
	AccrueMemberProfit(ctx context.Context, tx *gorm.DB, memberID string, day time.Time, amount int64, active bool) error
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	accounts *account.Service
	team     ProfitAccruer
	notifier notify.Notifier
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Accounts *account.Service
	Team     ProfitAccruer   `optional:"true"`
	Notifier notify.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config,
		accounts: p.Accounts,
		team:     p.Team,
		notifier: p.Notifier,
	}
}

// Grant performs one mining click for the user: cooldown gate, ROI-cap-aware
// profit calculation, atomic balance/ledger/session mutation. The balance
// credit, ROI accounting, ledger append, session advance and team profit
// accrual commit in one transaction so a crash can never split them.
func (s *Service) Grant(ctx context.Context, userID string) (*GrantResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
	}

	now := time.Now().UTC()
	mining := s.cfg.Mining

	var res *GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := s.accounts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if acct == nil {
			return businessErr(CodeAccountNotFound, "account not found")
		}
		if acct.IsBlocked {
			return businessErr(CodeAccountBlocked, "account is blocked")
		}
		if !acct.IsActive {
			return businessErr(CodeAccountInactive, "account is not active")
		}

		session, err := s.sessionForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if now.Before(session.NextEligibleAt) {
			return CooldownActive(session.NextEligibleAt, now)
		}

		rate := ClampBps(mining.DailyRateBps, mining.MinRateBps, mining.MaxRateBps)

		base := acct.DepositTotal
		if acct.Staked > base {
			base = acct.Staked
		}
		if mining.MinimumBaseCents > base {
			base = mining.MinimumBaseCents
		}

		profit := ApplyRateBps(base, rate)
		capTotal := CapTotal(acct.DepositTotal, mining.RoiCapPct)
		capReached := false
		if acct.RoiEarnedTotal+profit >= capTotal {
			profit = capTotal - acct.RoiEarnedTotal
			capReached = true
			if profit <= 0 {
				return businessErr(CodeROICapReached, "lifetime ROI cap reached")
			}
		}

		balance, err := s.balanceForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		delta := BalanceDelta{Current: profit, TotalBalance: profit, TotalEarning: profit}
		if err := tx.Model(&Balance{}).Where("user_id = ?", userID).Updates(delta.Updates()).Error; err != nil {
			return err
		}
		if err := s.accounts.AddRoiEarned(ctx, tx, userID, profit); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{
			"base_amount":     base,
			"rate_bps":        rate,
			"roi_cap_reached": capReached,
		})
		ledgerTx := &LedgerTransaction{
			ID:        s.node.Generate().String(),
			UserID:    userID,
			Type:      TxMiningReward,
			Amount:    profit,
			Status:    TxStatusCompleted,
			Meta:      datatypes.JSON(meta),
			CreatedAt: now,
		}
		if err := tx.Create(ledgerTx).Error; err != nil {
			return err
		}

		nextEligible := now.Add(mining.Cooldown)
		if err := tx.Model(&MiningSession{}).Where("user_id = ?", userID).Updates(map[string]any{
			"next_eligible_at": nextEligible,
			"earned_in_cycle":  0,
			"last_click_at":    now,
			"updated_at":       now,
		}).Error; err != nil {
			return err
		}

		if s.team != nil {
			if err := s.team.AccrueMemberProfit(ctx, tx, userID, now, profit, acct.IsActive); err != nil {
				return err
			}
		}

		res = &GrantResult{
			Profit:         profit,
			BaseAmount:     base,
			RateBps:        rate,
			RoiCapReached:  capReached,
			NextEligibleAt: nextEligible,
			NewBalance:     balance.Current + profit,
			LedgerTxID:     ledgerTx.ID,
		}
		return nil
	})
	if err != nil {
		re := AsError(err)
		if re.Kind == KindBusiness {
			zap.L().With(opts...).Warn("mining grant rejected", zap.String("code", re.Code))
		} else {
			zap.L().With(opts...).Error("mining grant failed", zap.Error(err))
		}
		return nil, re
	}

	zap.L().With(opts...).Info("mining grant completed",
		zap.Int64("profit_cents", res.Profit),
		zap.Bool("roi_cap_reached", res.RoiCapReached),
	)

	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, "mining_reward", "Mining reward credited",
			"Your mining click earned a new reward.")
	}

	return res, nil
}

// sessionForUpdate loads the row-locked mining session, creating it on first
// click.
func (s *Service) sessionForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*MiningSession, error) {
	var session MiningSession
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("user_id = ?", userID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		session = MiningSession{UserID: userID, CreatedAt: time.Now()}
		if err := tx.Create(&session).Error; err != nil {
			return nil, err
		}
		return &session, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) balanceForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*Balance, error) {
	var balance Balance
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = Balance{UserID: userID, CreatedAt: time.Now()}
		if err := tx.Create(&balance).Error; err != nil {
			return nil, err
		}
		return &balance, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetBalance returns the raw balance row, creating nothing.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var balance Balance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
