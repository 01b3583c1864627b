package reward

import (
	"context"
	"time"

	"minerush-rewardplane/pkg/db/option"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Maturity is the derived withdrawability view of a balance at a point in
// time. Lots that have passed their lock end count as withdrawable even when
// the release sweep has not flipped them yet.
type Maturity struct {
	Withdrawable int64      `json:"withdrawable_cents"`
	LockedAmount int64      `json:"locked_cents"`
	NextUnlockAt *time.Time `json:"next_unlock_at,omitempty"`
}

// ComputeMaturity partitions the user's lots by lock end against asOf. It is
// pure so both the balance view and the withdrawal gate share one definition.
// Withdrawable never goes below zero even if bookkeeping drifted.
func ComputeMaturity(balance *Balance, lots []LockedCapitalLot, asOf time.Time) Maturity {
	var locked int64
	var next *time.Time
	for i := range lots {
		lot := &lots[i]
		if lot.Released || !asOf.Before(lot.LockEnd) {
			continue
		}
		locked += lot.Amount
		if next == nil || lot.LockEnd.Before(*next) {
			end := lot.LockEnd
			next = &end
		}
	}

	withdrawable := balance.Current - balance.PendingWithdraw - locked
	if withdrawable < 0 {
		withdrawable = 0
	}
	return Maturity{Withdrawable: withdrawable, LockedAmount: locked, NextUnlockAt: next}
}

// GetMaturity loads the balance and open lots and resolves the view as of now.
func (s *Service) GetMaturity(ctx context.Context, userID string) (*Balance, Maturity, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, Maturity{}, err
	}

	var lots []LockedCapitalLot
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND released = ?", userID, false).
		Find(&lots).Error; err != nil {
		return nil, Maturity{}, err
	}

	return balance, ComputeMaturity(balance, lots, time.Now().UTC()), nil
}

// AddLockedLot records a new time-locked sub-amount and mirrors it into the
// balance's locked_capital. Deposit ingestion calls this when capital carries
// a lock period.
func (s *Service) AddLockedLot(ctx context.Context, userID string, amount int64, lockEnd time.Time) (*LockedCapitalLot, error) {
	if amount <= 0 {
		return nil, businessErr(CodeInsufficient, "lot amount must be positive")
	}

	lot := &LockedCapitalLot{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Amount:    amount,
		LockEnd:   lockEnd.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lot).Error; err != nil {
			return err
		}
		if _, err := s.balanceForUpdate(ctx, tx, userID); err != nil {
			return err
		}
		delta := BalanceDelta{LockedCapital: amount}
		return tx.Model(&Balance{}).Where("user_id = ?", userID).Updates(delta.Updates()).Error
	})
	if err != nil {
		return nil, AsError(err)
	}
	return lot, nil
}

// ReleaseMaturedLots flips lots whose lock has ended and decrements the
// owner's locked_capital accordingly. Safe to re-run at any time: released
// lots are excluded by the query, so a second sweep over the same window
// changes nothing.
func (s *Service) ReleaseMaturedLots(ctx context.Context, asOf time.Time) (released int, err error) {
	var lots []LockedCapitalLot
	if err := s.db.WithContext(ctx).
		Where("released = ? AND lock_end <= ?", false, asOf).
		Order("lock_end asc").
		Find(&lots).Error; err != nil {
		return 0, err
	}

	for i := range lots {
		lot := lots[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current LockedCapitalLot
			if err := option.LockingUpdate(tx).Where("id = ?", lot.ID).First(&current).Error; err != nil {
				return err
			}
			if current.Released {
				return nil
			}

			now := time.Now().UTC()
			if err := tx.Model(&LockedCapitalLot{}).Where("id = ?", current.ID).Updates(map[string]any{
				"released":    true,
				"released_at": now,
			}).Error; err != nil {
				return err
			}

			// cap the decrement so drifted bookkeeping never drives
			// locked_capital negative
			return tx.Model(&Balance{}).
				Where("user_id = ?", current.UserID).
				Update("locked_capital", gorm.Expr(
					"CASE WHEN locked_capital >= ? THEN locked_capital - ? ELSE 0 END",
					current.Amount, current.Amount,
				)).Error
		})
		if err != nil {
			zap.L().Error("lot release failed",
				zap.String("lot_id", lot.ID),
				zap.String("user_id", lot.UserID),
				zap.Error(err),
			)
			return released, err
		}
		released++
	}

	if released > 0 {
		zap.L().Info("matured lots released", zap.Int("count", released))
	}
	return released, nil
}
