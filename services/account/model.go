package account

import "time"

// Account is the user/account document consumed by the reward pipeline. The
// reward engine reads deposit totals and ROI accounting from here and applies
// atomic increments; it never owns identity or registration.
type Account struct {
	ID             string    `gorm:"column:id;primaryKey"`
	SponsorID      string    `gorm:"column:sponsor_id;index"`
	DepositTotal   int64     `gorm:"column:deposit_total;not null;default:0"`
	RoiEarnedTotal int64     `gorm:"column:roi_earned_total;not null;default:0"`
	Staked         int64     `gorm:"column:staked;not null;default:0"`
	IsActive       bool      `gorm:"column:is_active;not null"`
	IsBlocked      bool      `gorm:"column:is_blocked;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Account) TableName() string { return "accounts" }
