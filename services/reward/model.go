package reward

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Balance is the single per-user balance row. All amounts are integer cents.
// Current includes locked funds; the maturity resolver derives what is
// actually withdrawable.
type Balance struct {
	UserID               string    `gorm:"column:user_id;primaryKey"`
	Current              int64     `gorm:"column:current;not null;default:0"`
	TotalBalance         int64     `gorm:"column:total_balance;not null;default:0"`
	TotalEarning         int64     `gorm:"column:total_earning;not null;default:0"`
	PendingWithdraw      int64     `gorm:"column:pending_withdraw;not null;default:0"`
	LockedCapital        int64     `gorm:"column:locked_capital;not null;default:0"`
	Staked               int64     `gorm:"column:staked;not null;default:0"`
	TeamRewardsAvailable int64     `gorm:"column:team_rewards_available;not null;default:0"`
	TeamRewardsClaimed   int64     `gorm:"column:team_rewards_claimed;not null;default:0"`
	CreatedAt            time.Time `gorm:"column:created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "balances" }

// LockedCapitalLot is a discrete time-locked sub-amount of a balance. The
// balance invariant: locked_capital == sum of unreleased lot amounts.
type LockedCapitalLot struct {
	ID         string     `gorm:"column:id;primaryKey"`
	UserID     string     `gorm:"column:user_id;index;not null"`
	Amount     int64      `gorm:"column:amount;not null"`
	LockEnd    time.Time  `gorm:"column:lock_end;index;not null"`
	Released   bool       `gorm:"column:released;not null;default:false"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

func (LockedCapitalLot) TableName() string { return "locked_capital_lots" }

// MiningSession tracks the per-user cooldown window. NextEligibleAt strictly
// increases on each successful grant.
type MiningSession struct {
	UserID         string    `gorm:"column:user_id;primaryKey"`
	NextEligibleAt time.Time `gorm:"column:next_eligible_at"`
	EarnedInCycle  int64     `gorm:"column:earned_in_cycle;not null;default:0"`
	LastClickAt    time.Time `gorm:"column:last_click_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (MiningSession) TableName() string { return "mining_sessions" }

type TxType string

const (
	TxMiningReward    TxType = "mining_reward"
	TxWithdraw        TxType = "withdraw"
	TxTeamRewardClaim TxType = "team_reward_claim"
)

type TxStatus string

const (
	TxStatusCompleted TxStatus = "completed"
	TxStatusPending   TxStatus = "pending"
	TxStatusRejected  TxStatus = "rejected"
)

// LedgerTransaction is append-only; only pending withdrawals transition
// status after creation.
type LedgerTransaction struct {
	ID        string         `gorm:"column:id;primaryKey"`
	UserID    string         `gorm:"column:user_id;index;not null"`
	Type      TxType         `gorm:"column:type;type:varchar(30);index;not null"`
	Amount    int64          `gorm:"column:amount;not null"`
	Status    TxStatus       `gorm:"column:status;type:varchar(20);not null"`
	Meta      datatypes.JSON `gorm:"column:meta"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// BalanceDelta is a typed set of balance increments applied atomically as
// conditional updates, replacing ad-hoc update maps.
type BalanceDelta struct {
	Current              int64
	TotalBalance         int64
	TotalEarning         int64
	PendingWithdraw      int64
	LockedCapital        int64
	TeamRewardsAvailable int64
	TeamRewardsClaimed   int64
}

// Updates renders the delta as conditional column increments. Zero fields
// are omitted.
func (d BalanceDelta) Updates() map[string]any {
	updates := map[string]any{"updated_at": time.Now()}
	add := func(col string, v int64) {
		if v != 0 {
			updates[col] = gorm.Expr(col+" + ?", v)
		}
	}
	add("current", d.Current)
	add("total_balance", d.TotalBalance)
	add("total_earning", d.TotalEarning)
	add("pending_withdraw", d.PendingWithdraw)
	add("locked_capital", d.LockedCapital)
	add("team_rewards_available", d.TeamRewardsAvailable)
	add("team_rewards_claimed", d.TeamRewardsClaimed)
	return updates
}

// GrantResult is the outcome of one successful mining grant.
type GrantResult struct {
	Profit         int64     `json:"profit_cents"`
	BaseAmount     int64     `json:"base_amount_cents"`
	RateBps        int64     `json:"rate_bps"`
	RoiCapReached  bool      `json:"roi_cap_reached"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	NewBalance     int64     `json:"new_balance_cents"`
	LedgerTxID     string    `json:"ledger_tx_id"`
}
