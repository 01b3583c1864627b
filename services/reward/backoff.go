package reward

import (
	"time"

	"github.com/hibiken/asynq"
)

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// RetryDelay is the queue's retry schedule: exponential doubling from a 2s
// base, capped at 5m. It is deterministic so the Retry-After hint surfaced to
// polling clients matches what the queue will actually do.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return DelayForAttempt(n)
}

// DelayForAttempt returns the delay before retry attempt n (1-based).
func DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := retryBaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}
