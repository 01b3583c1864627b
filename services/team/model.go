package team

import (
	"time"

	"gorm.io/datatypes"
)

type PayoutType string

const (
	PayoutDepositBonusSelf PayoutType = "DEPOSIT_BONUS_SELF"
	PayoutDepositL1        PayoutType = "DEPOSIT_L1"
	PayoutDepositL2        PayoutType = "DEPOSIT_L2"
	PayoutTeamEarnL1       PayoutType = "TEAM_EARN_L1"
	PayoutTeamEarnL2       PayoutType = "TEAM_EARN_L2"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutClaimed PayoutStatus = "CLAIMED"
)

// BonusPayout is one upline (or self) bonus owed to a receiver. The unique
// index on (type, source_tx_id, receiver_user_id) is what makes every
// distribution pass idempotent: a re-run inserts zero new rows.
type BonusPayout struct {
	ID             string       `gorm:"column:id;primaryKey"`
	PayerUserID    string       `gorm:"column:payer_user_id;index;not null"`
	ReceiverUserID string       `gorm:"column:receiver_user_id;index;not null;uniqueIndex:idx_payout_dedup,priority:3"`
	Type           PayoutType   `gorm:"column:type;type:varchar(30);not null;uniqueIndex:idx_payout_dedup,priority:1"`
	BaseAmount     int64        `gorm:"column:base_amount;not null"`
	PercentBps     int64        `gorm:"column:percent_bps;not null"`
	PayoutAmount   int64        `gorm:"column:payout_amount;not null"`
	SourceTxID     string       `gorm:"column:source_tx_id;not null;uniqueIndex:idx_payout_dedup,priority:2"`
	Status         PayoutStatus `gorm:"column:status;type:varchar(20);not null;index"`
	ClaimedAt      *time.Time   `gorm:"column:claimed_at"`
	CreatedAt      time.Time    `gorm:"column:created_at"`
	UpdatedAt      time.Time    `gorm:"column:updated_at"`
}

func (BonusPayout) TableName() string { return "bonus_payouts" }

// TeamDailyProfit aggregates one member's mining profit for one UTC date.
// The engine upserts into it on every grant; the distributor reads the prior
// day's rows and stamps ClaimedBy per upline level so each level pays out at
// most once.
type TeamDailyProfit struct {
	ID           string         `gorm:"column:id;primaryKey"`
	MemberID     string         `gorm:"column:member_id;not null;uniqueIndex:idx_member_date,priority:1"`
	ProfitDate   time.Time      `gorm:"column:profit_date;not null;uniqueIndex:idx_member_date,priority:2"`
	ProfitAmount int64          `gorm:"column:profit_amount;not null;default:0"`
	ActiveOnDate bool           `gorm:"column:active_on_date;not null;default:false"`
	ClaimedBy    datatypes.JSON `gorm:"column:claimed_by"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (TeamDailyProfit) TableName() string { return "team_daily_profits" }

// ProfitDay truncates t to its UTC date, the granularity of accrual rows.
func ProfitDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
