package team

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/reward"
	"minerush-rewardplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Team.EarnL1Bps = 200
	cfg.Team.EarnL2Bps = 100
	cfg.Team.DepositSelfBps = 500
	cfg.Team.DepositL1Bps = 300
	cfg.Team.DepositL2Bps = 100
	return cfg
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.Account{},
		&reward.Balance{},
		&reward.LedgerTransaction{},
		&BonusPayout{},
		&TeamDailyProfit{},
	)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   testConfig(),
		Accounts: account.NewService(account.ServiceParams{DB: db}),
	})
	return svc, db
}

func seedChain(t *testing.T, db *gorm.DB) {
	t.Helper()
	// member -> l1 -> l2
	require.NoError(t, db.Create(&account.Account{ID: "l2", IsActive: true}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "l1", SponsorID: "l2", IsActive: true}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "m1", SponsorID: "l1", IsActive: true}).Error)
}

func TestAccrueMemberProfitUpserts(t *testing.T) {
	svc, db := newTestService(t)
	day := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", day, 200, true))
	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", day.Add(2*time.Hour), 300, true))

	var rows []TeamDailyProfit
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, int64(500), rows[0].ProfitAmount)
	require.True(t, rows[0].ProfitDate.UTC().Equal(ProfitDay(day)))
}

func TestRunDailyTeamEarnings(t *testing.T) {
	svc, db := newTestService(t)
	seedChain(t, db)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", yesterday, 10_000, true))

	report, err := svc.RunDailyTeamEarnings(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, report.Members)
	require.Equal(t, 2, report.Payouts)
	require.Zero(t, report.Skipped)

	var payouts []BonusPayout
	require.NoError(t, db.Order("type").Find(&payouts).Error)
	require.Len(t, payouts, 2)

	byType := map[PayoutType]BonusPayout{}
	for _, p := range payouts {
		byType[p.Type] = p
	}
	require.Equal(t, int64(200), byType[PayoutTeamEarnL1].PayoutAmount)
	require.Equal(t, "l1", byType[PayoutTeamEarnL1].ReceiverUserID)
	require.Equal(t, int64(100), byType[PayoutTeamEarnL2].PayoutAmount)
	require.Equal(t, "l2", byType[PayoutTeamEarnL2].ReceiverUserID)
	require.Equal(t, PayoutPending, byType[PayoutTeamEarnL1].Status)

	var l1Balance reward.Balance
	require.NoError(t, db.First(&l1Balance, "user_id = ?", "l1").Error)
	require.Equal(t, int64(200), l1Balance.TeamRewardsAvailable)
	require.Zero(t, l1Balance.Current)
}

func TestRunDailyTeamEarningsIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	seedChain(t, db)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", yesterday, 10_000, true))

	_, err := svc.RunDailyTeamEarnings(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	report, err := svc.RunDailyTeamEarnings(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, report.Payouts)
	require.Equal(t, 2, report.Skipped)

	var count int64
	require.NoError(t, db.Model(&BonusPayout{}).Count(&count).Error)
	require.Equal(t, int64(2), count)

	// the balance mirror must not double-credit either
	var l1Balance reward.Balance
	require.NoError(t, db.First(&l1Balance, "user_id = ?", "l1").Error)
	require.Equal(t, int64(200), l1Balance.TeamRewardsAvailable)
}

func TestRunDailyTeamEarningsSkipsIneligibleUpline(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Create(&account.Account{ID: "l2", IsActive: true, IsBlocked: true}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "l1", SponsorID: "l2", IsActive: false}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "m1", SponsorID: "l1", IsActive: true}).Error)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", yesterday, 10_000, true))

	report, err := svc.RunDailyTeamEarnings(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, report.Payouts)
}

func TestClaimIsAllOrNothing(t *testing.T) {
	svc, db := newTestService(t)
	seedChain(t, db)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, svc.AccrueMemberProfit(context.Background(), db, "m1", yesterday, 10_000, true))
	_, err := svc.RunDailyTeamEarnings(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	tx, total, err := svc.Claim(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, int64(200), total)
	require.Equal(t, reward.TxTeamRewardClaim, tx.Type)

	var balance reward.Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "l1").Error)
	require.Equal(t, int64(200), balance.Current)
	require.Equal(t, int64(200), balance.TeamRewardsClaimed)
	require.Zero(t, balance.TeamRewardsAvailable)

	var payout BonusPayout
	require.NoError(t, db.First(&payout, "receiver_user_id = ?", "l1").Error)
	require.Equal(t, PayoutClaimed, payout.Status)
	require.NotNil(t, payout.ClaimedAt)

	_, _, err = svc.Claim(context.Background(), "l1")
	require.ErrorIs(t, err, ErrNothingToClaim)
}

func TestDistributeDepositBonuses(t *testing.T) {
	svc, db := newTestService(t)
	seedChain(t, db)

	created, err := svc.DistributeDepositBonuses(context.Background(), "m1", 100_000, "DEP-1")
	require.NoError(t, err)
	require.Equal(t, 3, created)

	var payouts []BonusPayout
	require.NoError(t, db.Find(&payouts).Error)
	require.Len(t, payouts, 3)

	byType := map[PayoutType]BonusPayout{}
	for _, p := range payouts {
		byType[p.Type] = p
	}
	require.Equal(t, int64(5_000), byType[PayoutDepositBonusSelf].PayoutAmount)
	require.Equal(t, "m1", byType[PayoutDepositBonusSelf].ReceiverUserID)
	require.Equal(t, int64(3_000), byType[PayoutDepositL1].PayoutAmount)
	require.Equal(t, int64(1_000), byType[PayoutDepositL2].PayoutAmount)

	// replaying the deposit event pays nothing new
	created, err = svc.DistributeDepositBonuses(context.Background(), "m1", 100_000, "DEP-1")
	require.NoError(t, err)
	require.Zero(t, created)
}

func TestProfitDay(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 59, 59, 0, time.FixedZone("UTC+7", 7*3600))
	require.True(t, ProfitDay(ts).Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}
