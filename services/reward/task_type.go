package reward

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskMiningReward = "reward:mining_click"

	QueueRewards = "rewards"
)

type MiningRewardPayload struct {
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	TraceID        string `json:"trace_id,omitempty"`
}

// NewMiningRewardTask builds the click task. The asynq task ID is the
// idempotency key, so a duplicate enqueue while the first task is still live
// is rejected by the broker rather than processed twice.
func NewMiningRewardTask(p MiningRewardPayload, maxRetry int, timeout, retention time.Duration) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskMiningReward, payload,
		asynq.TaskID(p.IdempotencyKey),
		asynq.Queue(QueueRewards),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(retention),
	)
}
