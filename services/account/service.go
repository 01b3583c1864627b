package account

import (
	"context"
	"errors"
	"time"

	"minerush-rewardplane/pkg/db/option"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("account.service",
	fx.Provide(NewService),
)

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetForUpdate loads the account row-locked inside the caller's transaction.
func (s *Service) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Account, error) {
	var acct Account
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// AddRoiEarned applies the ROI accounting increment inside the caller's
// transaction so it commits together with the matching balance credit.
func (s *Service) AddRoiEarned(ctx context.Context, tx *gorm.DB, id string, delta int64) error {
	return tx.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"roi_earned_total": gorm.Expr("roi_earned_total + ?", delta),
			"updated_at":       time.Now(),
		}).Error
}

// Upline resolves the L1 and L2 sponsors of a member. Either may be nil when
// the chain is shorter.
func (s *Service) Upline(ctx context.Context, memberID string) (l1, l2 *Account, err error) {
	member, err := s.Get(ctx, memberID)
	if err != nil || member == nil || member.SponsorID == "" {
		return nil, nil, err
	}

	l1, err = s.Get(ctx, member.SponsorID)
	if err != nil || l1 == nil || l1.SponsorID == "" {
		return l1, nil, err
	}

	l2, err = s.Get(ctx, l1.SponsorID)
	if err != nil {
		return l1, nil, err
	}
	return l1, l2, nil
}
