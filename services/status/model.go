package status

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrorInfo is the structured failure payload surfaced to clients. For a
// retryable failure RetryAfterMs carries the hint derived from the queue's
// own backoff policy.
type ErrorInfo struct {
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// Request tracks the lifecycle of one reward request, keyed by idempotency
// key. Created on first submission, mutated only by the worker, reclaimed by
// TTL once terminal.
type Request struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	Status         Status          `json:"status"`
	QueueDepth     int             `json:"queue_depth,omitempty"`
	Error          *ErrorInfo      `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the request reached a final state.
func (r *Request) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
