package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/services/status"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.reward",
	fx.Provide(NewEnqueuer),
	fx.Provide(NewTask),
)

// Enqueuer is the API-side half of the queue: it submits click tasks and
// reports queue depth for client feedback.
type Enqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       *config.Config
}

type EnqueuerParams struct {
	fx.In
	Client    *asynq.Client
	Inspector *asynq.Inspector
	Config    *config.Config
}

func NewEnqueuer(p EnqueuerParams) *Enqueuer {
	return &Enqueuer{client: p.Client, inspector: p.Inspector, cfg: p.Config}
}

// EnqueueMiningReward submits the task keyed by the idempotency key. A
// duplicate submission while the first task is still tracked by the broker
// comes back as ErrTaskIDConflict, which is success from the caller's point
// of view: the work is already queued.
func (e *Enqueuer) EnqueueMiningReward(ctx context.Context, key, userID, traceID string) error {
	task := NewMiningRewardTask(
		MiningRewardPayload{IdempotencyKey: key, UserID: userID, TraceID: traceID},
		e.cfg.Asynq.MaxRetry,
		e.cfg.Asynq.TaskTimeout,
		e.cfg.Asynq.Retention,
	)

	_, err := e.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Debug("task already enqueued", zap.String("idempotency_key", key))
		return nil
	}
	return err
}

// QueueDepth counts tasks still ahead of or alongside a fresh submission.
// Depth is advisory, so a missing queue (nothing enqueued yet) reads as zero.
func (e *Enqueuer) QueueDepth(ctx context.Context) int {
	info, err := e.inspector.GetQueueInfo(QueueRewards)
	if err != nil {
		return 0
	}
	return info.Pending + info.Scheduled + info.Retry + info.Aggregating
}

// StatusWriter is the slice of the status store the worker needs.
type StatusWriter interface {
	Transition(ctx context.Context, key string, mutate func(*status.Request)) (*status.Request, error)
}

// Task is the worker-side handler for reward jobs.
type Task struct {
	engine *Service
	status StatusWriter
}

type TaskParams struct {
	fx.In
	Engine *Service
	Status *status.Store
}

func NewTask(p TaskParams) *Task {
	return &Task{engine: p.Engine, status: p.Status}
}

// NewTaskWith wires the handler from interfaces directly; tests use it.
func NewTaskWith(engine *Service, statuses StatusWriter) *Task {
	return &Task{engine: engine, status: statuses}
}

// HandleMiningReward processes one click task. Whatever happens, including a
// panic in the engine, the handler leaves a status record behind so pollers
// are never stuck on "processing" forever.
func (t *Task) HandleMiningReward(ctx context.Context, task *asynq.Task) (err error) {
	var payload MiningRewardPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("idempotency_key", payload.IdempotencyKey),
		zap.String("user_id", payload.UserID),
		zap.String("trace_id", payload.TraceID),
	)

	defer func() {
		if r := recover(); r != nil {
			zapLog.Error("reward task panicked", zap.Any("panic", r))
			err = t.fail(ctx, payload.IdempotencyKey, fmt.Errorf("panic: %v", r))
		}
	}()

	if _, serr := t.status.Transition(ctx, payload.IdempotencyKey, func(r *status.Request) {
		r.UserID = payload.UserID
		r.Status = status.StatusProcessing
	}); serr != nil {
		zapLog.Warn("status transition to processing failed", zap.Error(serr))
	}

	result, gerr := t.engine.Grant(ctx, payload.UserID)
	if gerr != nil {
		re := AsError(gerr)
		if re.Kind == KindBusiness {
			zapLog.Warn("reward rejected", zap.String("code", re.Code))
			if _, serr := t.status.Transition(ctx, payload.IdempotencyKey, func(r *status.Request) {
				r.Status = status.StatusFailed
				r.Error = &status.ErrorInfo{Message: re.Error(), Retryable: false}
			}); serr != nil {
				zapLog.Error("status transition to failed failed", zap.Error(serr))
			}
			return fmt.Errorf("%s: %w", re.Code, asynq.SkipRetry)
		}
		return t.fail(ctx, payload.IdempotencyKey, gerr)
	}

	raw, _ := json.Marshal(result)
	if _, serr := t.status.Transition(ctx, payload.IdempotencyKey, func(r *status.Request) {
		r.Status = status.StatusCompleted
		r.Error = nil
		r.Result = raw
	}); serr != nil {
		zapLog.Error("status transition to completed failed", zap.Error(serr))
	}

	zapLog.Info("reward task completed", zap.Int64("profit_cents", result.Profit))
	return nil
}

// fail records an infrastructure failure. While attempts remain the status
// stays retryable with a Retry-After hint matching the queue's own schedule;
// on the last attempt it becomes terminal.
func (t *Task) fail(ctx context.Context, key string, cause error) error {
	retryable := false
	var retryAfterMs int64

	n, _ := asynq.GetRetryCount(ctx)
	max, _ := asynq.GetMaxRetry(ctx)
	if n < max {
		retryable = true
		retryAfterMs = DelayForAttempt(n + 1).Milliseconds()
	}

	if _, serr := t.status.Transition(ctx, key, func(r *status.Request) {
		r.Status = status.StatusFailed
		r.Error = &status.ErrorInfo{
			Message:      cause.Error(),
			Retryable:    retryable,
			RetryAfterMs: retryAfterMs,
		}
	}); serr != nil {
		zap.L().Error("status transition to failed failed",
			zap.String("idempotency_key", key), zap.Error(serr))
	}

	return cause
}
