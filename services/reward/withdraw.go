package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"minerush-rewardplane/pkg/db/option"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RequestWithdraw moves amount from the withdrawable portion of the balance
// into pending_withdraw and records a pending ledger transaction awaiting
// settlement. The maturity view is resolved under the balance row lock, so
// concurrent requests cannot both spend the same withdrawable cents.
func (s *Service) RequestWithdraw(ctx context.Context, userID string, amount int64) (*LedgerTransaction, error) {
	if amount <= 0 {
		return nil, businessErr(CodeInsufficient, "withdraw amount must be positive")
	}

	var ledgerTx *LedgerTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance Balance
		err := option.LockingUpdate(tx).Where("user_id = ?", userID).First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return businessErr(CodeInsufficient, "no balance")
		}
		if err != nil {
			return err
		}

		var lots []LockedCapitalLot
		if err := tx.Where("user_id = ? AND released = ?", userID, false).Find(&lots).Error; err != nil {
			return err
		}

		maturity := ComputeMaturity(&balance, lots, time.Now().UTC())
		if amount > maturity.Withdrawable {
			return businessErr(CodeInsufficient,
				fmt.Sprintf("requested %d exceeds withdrawable %d", amount, maturity.Withdrawable))
		}

		delta := BalanceDelta{PendingWithdraw: amount}
		if err := tx.Model(&Balance{}).Where("user_id = ?", userID).Updates(delta.Updates()).Error; err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{"withdrawable_at_request": maturity.Withdrawable})
		ledgerTx = &LedgerTransaction{
			ID:        s.node.Generate().String(),
			UserID:    userID,
			Type:      TxWithdraw,
			Amount:    amount,
			Status:    TxStatusPending,
			Meta:      datatypes.JSON(meta),
			CreatedAt: time.Now().UTC(),
		}
		return tx.Create(ledgerTx).Error
	})
	if err != nil {
		return nil, AsError(err)
	}

	zap.L().Info("withdraw requested",
		zap.String("user_id", userID),
		zap.String("tx_id", ledgerTx.ID),
		zap.Int64("amount_cents", amount),
	)
	return ledgerTx, nil
}

// SettleWithdraw finalizes a pending withdrawal. Approval debits the balance;
// rejection returns the reserved amount to the withdrawable pool. Settling a
// transaction that is not pending is a conflict, not a silent no-op.
func (s *Service) SettleWithdraw(ctx context.Context, txID string, approve bool) (*LedgerTransaction, error) {
	var settled *LedgerTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lt LedgerTransaction
		err := option.LockingUpdate(tx).Where("id = ? AND type = ?", txID, TxWithdraw).First(&lt).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return businessErr(CodeAccountNotFound, "withdrawal not found")
		}
		if err != nil {
			return err
		}
		if lt.Status != TxStatusPending {
			return businessErr(CodeInsufficient, "withdrawal already settled")
		}

		var delta BalanceDelta
		status := TxStatusRejected
		if approve {
			status = TxStatusCompleted
			delta = BalanceDelta{Current: -lt.Amount, TotalBalance: -lt.Amount, PendingWithdraw: -lt.Amount}
		} else {
			delta = BalanceDelta{PendingWithdraw: -lt.Amount}
		}

		if err := tx.Model(&Balance{}).Where("user_id = ?", lt.UserID).Updates(delta.Updates()).Error; err != nil {
			return err
		}
		if err := tx.Model(&LedgerTransaction{}).Where("id = ?", lt.ID).Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}

		lt.Status = status
		settled = &lt
		return nil
	})
	if err != nil {
		return nil, AsError(err)
	}

	zap.L().Info("withdraw settled",
		zap.String("tx_id", settled.ID),
		zap.String("status", string(settled.Status)),
	)
	return settled, nil
}
