package reward

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/status"
)

type statusWriterMock struct {
	records map[string]*status.Request
}

func newStatusWriterMock() *statusWriterMock {
	return &statusWriterMock{records: make(map[string]*status.Request)}
}

func (m *statusWriterMock) Transition(_ context.Context, key string, mutate func(*status.Request)) (*status.Request, error) {
	req, ok := m.records[key]
	if !ok {
		req = &status.Request{IdempotencyKey: key, Status: status.StatusQueued}
		m.records[key] = req
	}
	mutate(req)
	return req, nil
}

func miningTask(t *testing.T, key, userID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(MiningRewardPayload{IdempotencyKey: key, UserID: userID})
	require.NoError(t, err)
	return asynq.NewTask(TaskMiningReward, payload)
}

func TestHandleMiningRewardCompletes(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedAccount(t, db, account.Account{ID: "u1", DepositTotal: 10_000, IsActive: true})

	statuses := newStatusWriterMock()
	task := NewTaskWith(svc, statuses)

	err := task.HandleMiningReward(context.Background(), miningTask(t, "k1", "u1"))
	require.NoError(t, err)

	rec := statuses.records["k1"]
	require.NotNil(t, rec)
	require.Equal(t, status.StatusCompleted, rec.Status)
	require.Nil(t, rec.Error)

	var result GrantResult
	require.NoError(t, json.Unmarshal(rec.Result, &result))
	require.Equal(t, int64(200), result.Profit)
}

func TestHandleMiningRewardBusinessFailureSkipsRetry(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedAccount(t, db, account.Account{ID: "u1", DepositTotal: 10_000, RoiEarnedTotal: 30_000, IsActive: true})

	statuses := newStatusWriterMock()
	task := NewTaskWith(svc, statuses)

	err := task.HandleMiningReward(context.Background(), miningTask(t, "k1", "u1"))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	rec := statuses.records["k1"]
	require.Equal(t, status.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	require.False(t, rec.Error.Retryable)
	require.Contains(t, rec.Error.Message, CodeROICapReached)
}

func TestHandleMiningRewardInfraFailureIsRetried(t *testing.T) {
	svc, db, accruer := newTestService(t)
	accruer.err = errors.New("connection reset")
	seedAccount(t, db, account.Account{ID: "u1", DepositTotal: 10_000, IsActive: true})

	statuses := newStatusWriterMock()
	task := NewTaskWith(svc, statuses)

	err := task.HandleMiningReward(context.Background(), miningTask(t, "k1", "u1"))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	// without asynq retry metadata in ctx the failure reads as final
	rec := statuses.records["k1"]
	require.Equal(t, status.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
}

func TestHandleMiningRewardMalformedPayload(t *testing.T) {
	svc, _, _ := newTestService(t)
	task := NewTaskWith(svc, newStatusWriterMock())

	err := task.HandleMiningReward(context.Background(), asynq.NewTask(TaskMiningReward, []byte("{not json")))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
