package reward

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeMaturityPartitionsLots(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	balance := &Balance{UserID: "u1", Current: 10_000}
	lots := []LockedCapitalLot{
		{ID: "a", UserID: "u1", Amount: 3_000, LockEnd: now.Add(-time.Hour)},           // matured
		{ID: "b", UserID: "u1", Amount: 2_000, LockEnd: now.Add(48 * time.Hour)},      // locked
		{ID: "c", UserID: "u1", Amount: 1_000, LockEnd: now.Add(24 * time.Hour)},      // locked, unlocks first
		{ID: "d", UserID: "u1", Amount: 4_000, LockEnd: now.Add(-time.Minute), Released: true},
	}

	m := ComputeMaturity(balance, lots, now)
	require.Equal(t, int64(3_000), m.LockedAmount)
	require.Equal(t, int64(7_000), m.Withdrawable)
	require.NotNil(t, m.NextUnlockAt)
	require.Equal(t, now.Add(24*time.Hour), *m.NextUnlockAt)
}

func TestComputeMaturityFloorsAtZero(t *testing.T) {
	now := time.Now().UTC()
	balance := &Balance{UserID: "u1", Current: 1_000, PendingWithdraw: 500}
	lots := []LockedCapitalLot{
		{ID: "a", UserID: "u1", Amount: 5_000, LockEnd: now.Add(time.Hour)},
	}

	m := ComputeMaturity(balance, lots, now)
	require.Zero(t, m.Withdrawable)
	require.Equal(t, int64(5_000), m.LockedAmount)
}

func TestComputeMaturityMonotoneOverTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	balance := &Balance{UserID: "u1", Current: 10_000}
	lots := []LockedCapitalLot{
		{ID: "a", Amount: 2_000, LockEnd: start.Add(12 * time.Hour)},
		{ID: "b", Amount: 3_000, LockEnd: start.Add(36 * time.Hour)},
		{ID: "c", Amount: 1_000, LockEnd: start.Add(72 * time.Hour)},
	}

	prev := int64(-1)
	for h := 0; h <= 96; h += 6 {
		m := ComputeMaturity(balance, lots, start.Add(time.Duration(h)*time.Hour))
		require.GreaterOrEqual(t, m.Withdrawable, prev, "withdrawable regressed at +%dh", h)
		prev = m.Withdrawable
	}
	require.Equal(t, int64(10_000), prev)
}

func TestAddLockedLotMirrorsBalance(t *testing.T) {
	svc, db, _ := newTestService(t)

	lot, err := svc.AddLockedLot(context.Background(), "u1", 5_000, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, lot.ID)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(5_000), balance.LockedCapital)

	_, err = svc.AddLockedLot(context.Background(), "u1", 0, time.Now())
	require.Error(t, err)
}

func TestReleaseMaturedLots(t *testing.T) {
	svc, db, _ := newTestService(t)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&Balance{UserID: "u1", Current: 10_000, LockedCapital: 5_000}).Error)
	require.NoError(t, db.Create(&LockedCapitalLot{ID: "a", UserID: "u1", Amount: 3_000, LockEnd: now.Add(-time.Hour)}).Error)
	require.NoError(t, db.Create(&LockedCapitalLot{ID: "b", UserID: "u1", Amount: 2_000, LockEnd: now.Add(time.Hour)}).Error)

	released, err := svc.ReleaseMaturedLots(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	var lot LockedCapitalLot
	require.NoError(t, db.First(&lot, "id = ?", "a").Error)
	require.True(t, lot.Released)
	require.NotNil(t, lot.ReleasedAt)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(2_000), balance.LockedCapital)

	// second sweep over the same window is a no-op
	released, err = svc.ReleaseMaturedLots(context.Background(), now)
	require.NoError(t, err)
	require.Zero(t, released)

	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(2_000), balance.LockedCapital)
}

func TestReleaseMaturedLotsCapsUnderflow(t *testing.T) {
	svc, db, _ := newTestService(t)
	now := time.Now().UTC()

	// drifted bookkeeping: lot amount exceeds recorded locked_capital
	require.NoError(t, db.Create(&Balance{UserID: "u1", Current: 10_000, LockedCapital: 1_000}).Error)
	require.NoError(t, db.Create(&LockedCapitalLot{ID: "a", UserID: "u1", Amount: 3_000, LockEnd: now.Add(-time.Hour)}).Error)

	_, err := svc.ReleaseMaturedLots(context.Background(), now)
	require.NoError(t, err)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Zero(t, balance.LockedCapital)
}

func TestRequestWithdrawRespectsMaturity(t *testing.T) {
	svc, db, _ := newTestService(t)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&Balance{UserID: "u1", Current: 10_000, LockedCapital: 4_000}).Error)
	require.NoError(t, db.Create(&LockedCapitalLot{ID: "a", UserID: "u1", Amount: 4_000, LockEnd: now.Add(time.Hour)}).Error)

	_, err := svc.RequestWithdraw(context.Background(), "u1", 7_000)
	require.Error(t, err)
	require.Equal(t, CodeInsufficient, AsError(err).Code)

	tx, err := svc.RequestWithdraw(context.Background(), "u1", 6_000)
	require.NoError(t, err)
	require.Equal(t, TxStatusPending, tx.Status)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(6_000), balance.PendingWithdraw)
	require.Equal(t, int64(10_000), balance.Current)

	// the reservation shrinks what a second request can take
	_, err = svc.RequestWithdraw(context.Background(), "u1", 1)
	require.Error(t, err)
	require.Equal(t, CodeInsufficient, AsError(err).Code)
}

func TestSettleWithdraw(t *testing.T) {
	svc, db, _ := newTestService(t)

	require.NoError(t, db.Create(&Balance{UserID: "u1", Current: 10_000, TotalBalance: 10_000}).Error)

	tx, err := svc.RequestWithdraw(context.Background(), "u1", 4_000)
	require.NoError(t, err)

	settled, err := svc.SettleWithdraw(context.Background(), tx.ID, true)
	require.NoError(t, err)
	require.Equal(t, TxStatusCompleted, settled.Status)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(6_000), balance.Current)
	require.Equal(t, int64(6_000), balance.TotalBalance)
	require.Zero(t, balance.PendingWithdraw)

	// settling twice is a conflict
	_, err = svc.SettleWithdraw(context.Background(), tx.ID, true)
	require.Error(t, err)
}

func TestSettleWithdrawRejectRestoresFunds(t *testing.T) {
	svc, db, _ := newTestService(t)

	require.NoError(t, db.Create(&Balance{UserID: "u1", Current: 10_000}).Error)

	tx, err := svc.RequestWithdraw(context.Background(), "u1", 4_000)
	require.NoError(t, err)

	settled, err := svc.SettleWithdraw(context.Background(), tx.ID, false)
	require.NoError(t, err)
	require.Equal(t, TxStatusRejected, settled.Status)

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "u1").Error)
	require.Equal(t, int64(10_000), balance.Current)
	require.Zero(t, balance.PendingWithdraw)
}
