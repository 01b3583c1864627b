package team

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/db/option"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/reward"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNothingToClaim = errors.New("nothing to claim")

const distributeWorkers = 8

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	accounts *account.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Accounts *account.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node, cfg: p.Config, accounts: p.Accounts}
}

// AccrueMemberProfit upserts the member's daily profit row inside the
// caller's grant transaction, so the accrual commits or rolls back together
// with the reward itself.
func (s *Service) AccrueMemberProfit(ctx context.Context, tx *gorm.DB, memberID string, day time.Time, amount int64, active bool) error {
	row := TeamDailyProfit{
		ID:           s.node.Generate().String(),
		MemberID:     memberID,
		ProfitDate:   ProfitDay(day),
		ProfitAmount: amount,
		ActiveOnDate: active,
		CreatedAt:    time.Now(),
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "member_id"}, {Name: "profit_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"profit_amount":  gorm.Expr("team_daily_profits.profit_amount + ?", amount),
			"active_on_date": active,
			"updated_at":     time.Now(),
		}),
	}).Create(&row).Error
}

// DistributionReport summarizes one distributor run.
type DistributionReport struct {
	ProfitDate time.Time
	Members    int
	Payouts    int
	Skipped    int
}

// RunDailyTeamEarnings pays L1/L2 upline shares of the previous UTC day's
// member profits. Re-running for the same day inserts zero new rows: every
// payout is deduplicated on (type, source_tx_id, receiver_user_id).
func (s *Service) RunDailyTeamEarnings(ctx context.Context, asOf time.Time) (*DistributionReport, error) {
	day := ProfitDay(asOf.Add(-24 * time.Hour))

	var rows []TeamDailyProfit
	if err := s.db.WithContext(ctx).
		Where("profit_date = ? AND active_on_date = ? AND profit_amount > 0", day, true).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	report := &DistributionReport{ProfitDate: day, Members: len(rows)}
	var payoutCount, skipCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(distributeWorkers)
	for i := range rows {
		row := rows[i]
		g.Go(func() error {
			created, skipped, err := s.distributeMemberDay(gctx, row)
			if err != nil {
				zap.L().Error("team earnings distribution failed for member",
					zap.String("member_id", row.MemberID),
					zap.Error(err),
				)
				return err
			}
			payoutCount.Add(int64(created))
			skipCount.Add(int64(skipped))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Payouts = int(payoutCount.Load())
	report.Skipped = int(skipCount.Load())
	zap.L().Info("daily team earnings distributed",
		zap.Time("profit_date", day),
		zap.Int("members", report.Members),
		zap.Int("payouts", report.Payouts),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Service) distributeMemberDay(ctx context.Context, row TeamDailyProfit) (created, skipped int, err error) {
	l1, l2, err := s.accounts.Upline(ctx, row.MemberID)
	if err != nil {
		return 0, 0, err
	}

	sourceTxID := "TDP-" + row.ID
	levels := []struct {
		receiver *account.Account
		typ      PayoutType
		bps      int64
	}{
		{l1, PayoutTeamEarnL1, s.cfg.Team.EarnL1Bps},
		{l2, PayoutTeamEarnL2, s.cfg.Team.EarnL2Bps},
	}

	claimedBy := map[string]string{}
	for _, lvl := range levels {
		if lvl.receiver == nil || !lvl.receiver.IsActive || lvl.receiver.IsBlocked || lvl.bps <= 0 {
			continue
		}
		amount := reward.ApplyRateBps(row.ProfitAmount, lvl.bps)
		if amount <= 0 {
			continue
		}

		ok, err := s.createPayout(ctx, BonusPayout{
			ID:             s.node.Generate().String(),
			PayerUserID:    row.MemberID,
			ReceiverUserID: lvl.receiver.ID,
			Type:           lvl.typ,
			BaseAmount:     row.ProfitAmount,
			PercentBps:     lvl.bps,
			PayoutAmount:   amount,
			SourceTxID:     sourceTxID,
			Status:         PayoutPending,
			CreatedAt:      time.Now(),
		})
		if err != nil {
			return created, skipped, err
		}
		if ok {
			created++
			claimedBy[string(lvl.typ)] = lvl.receiver.ID
		} else {
			skipped++
		}
	}

	if len(claimedBy) > 0 {
		raw, _ := json.Marshal(claimedBy)
		if err := s.db.WithContext(ctx).Model(&TeamDailyProfit{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"claimed_by": datatypes.JSON(raw), "updated_at": time.Now()}).Error; err != nil {
			return created, skipped, err
		}
	}
	return created, skipped, nil
}

// createPayout inserts the payout and mirrors its amount into the receiver's
// team_rewards_available, in one transaction. A duplicate key means an
// earlier run already paid this level for this source: not an error.
func (s *Service) createPayout(ctx context.Context, payout BonusPayout) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payout).Error; err != nil {
			return err
		}
		if err := s.ensureBalance(ctx, tx, payout.ReceiverUserID); err != nil {
			return err
		}
		delta := reward.BalanceDelta{TeamRewardsAvailable: payout.PayoutAmount}
		return tx.Model(&reward.Balance{}).
			Where("user_id = ?", payout.ReceiverUserID).
			Updates(delta.Updates()).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claim converts all of the receiver's PENDING payouts into spendable balance
// in one transaction. Either every payout flips to CLAIMED and the balance is
// credited with the full sum, or nothing changes.
func (s *Service) Claim(ctx context.Context, receiverID string) (*reward.LedgerTransaction, int64, error) {
	var ledgerTx *reward.LedgerTransaction
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payouts []BonusPayout
		if err := option.LockingUpdate(tx).
			Where("receiver_user_id = ? AND status = ?", receiverID, PayoutPending).
			Find(&payouts).Error; err != nil {
			return err
		}
		if len(payouts) == 0 {
			return ErrNothingToClaim
		}

		ids := make([]string, 0, len(payouts))
		for _, p := range payouts {
			total += p.PayoutAmount
			ids = append(ids, p.ID)
		}

		now := time.Now().UTC()
		if err := tx.Model(&BonusPayout{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     PayoutClaimed,
				"claimed_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := s.ensureBalance(ctx, tx, receiverID); err != nil {
			return err
		}
		delta := reward.BalanceDelta{
			Current:              total,
			TotalBalance:         total,
			TeamRewardsClaimed:   total,
			TeamRewardsAvailable: -total,
		}
		if err := tx.Model(&reward.Balance{}).
			Where("user_id = ?", receiverID).
			Updates(delta.Updates()).Error; err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{"payout_count": len(payouts)})
		ledgerTx = &reward.LedgerTransaction{
			ID:        s.node.Generate().String(),
			UserID:    receiverID,
			Type:      reward.TxTeamRewardClaim,
			Amount:    total,
			Status:    reward.TxStatusCompleted,
			Meta:      datatypes.JSON(meta),
			CreatedAt: now,
		}
		return tx.Create(ledgerTx).Error
	})
	if err != nil {
		return nil, 0, err
	}

	zap.L().Info("team rewards claimed",
		zap.String("receiver_user_id", receiverID),
		zap.Int64("amount_cents", total),
	)
	return ledgerTx, total, nil
}

// PendingPayouts lists the receiver's unclaimed payouts, newest first.
func (s *Service) PendingPayouts(ctx context.Context, receiverID string) ([]BonusPayout, error) {
	var payouts []BonusPayout
	err := s.db.WithContext(ctx).
		Where("receiver_user_id = ? AND status = ?", receiverID, PayoutPending).
		Order("created_at desc").
		Find(&payouts).Error
	return payouts, err
}

// DistributeDepositBonuses pays the self/L1/L2 deposit bonuses for one
// deposit, identified by sourceTxID. Same dedup rule as team earnings, so
// replaying a deposit event cannot double-pay.
func (s *Service) DistributeDepositBonuses(ctx context.Context, depositorID string, amount int64, sourceTxID string) (created int, err error) {
	depositor, err := s.accounts.Get(ctx, depositorID)
	if err != nil {
		return 0, err
	}
	if depositor == nil {
		return 0, errors.New("depositor account not found")
	}

	l1, l2, err := s.accounts.Upline(ctx, depositorID)
	if err != nil {
		return 0, err
	}

	levels := []struct {
		receiver *account.Account
		typ      PayoutType
		bps      int64
	}{
		{depositor, PayoutDepositBonusSelf, s.cfg.Team.DepositSelfBps},
		{l1, PayoutDepositL1, s.cfg.Team.DepositL1Bps},
		{l2, PayoutDepositL2, s.cfg.Team.DepositL2Bps},
	}

	for _, lvl := range levels {
		if lvl.receiver == nil || lvl.receiver.IsBlocked || lvl.bps <= 0 {
			continue
		}
		bonus := reward.ApplyRateBps(amount, lvl.bps)
		if bonus <= 0 {
			continue
		}
		ok, err := s.createPayout(ctx, BonusPayout{
			ID:             s.node.Generate().String(),
			PayerUserID:    depositorID,
			ReceiverUserID: lvl.receiver.ID,
			Type:           lvl.typ,
			BaseAmount:     amount,
			PercentBps:     lvl.bps,
			PayoutAmount:   bonus,
			SourceTxID:     sourceTxID,
			Status:         PayoutPending,
			CreatedAt:      time.Now(),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Service) ensureBalance(ctx context.Context, tx *gorm.DB, userID string) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&reward.Balance{UserID: userID, CreatedAt: time.Now()}).Error
}
