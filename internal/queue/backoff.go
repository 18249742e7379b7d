package queue

import (
	"time"
)

// Clock abstracts wall-clock time so the backoff policy can be unit tested
// without waiting.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

const (
	minBackoff = 1 * time.Minute
	maxBackoff = 60 * time.Minute
)

// BackoffPolicy computes retry scheduling for failed queue operations.
//
// The delay doubles per attempt and is clamped to [1, 60] minutes, giving
// attempt delays of 2, 4, 8, 16, 32, 60, 60, ... minutes. Exponential growth
// absorbs transient outages without hammering the remote store; the ceiling
// bounds worst-case staleness.
type BackoffPolicy struct {
	clock Clock
}

// NewBackoffPolicy creates a policy using the given clock.
// A nil clock defaults to the system clock.
func NewBackoffPolicy(clock Clock) *BackoffPolicy {
	if clock == nil {
		clock = SystemClock{}
	}
	return &BackoffPolicy{clock: clock}
}

// Delay returns the wait before the next attempt for an operation that has
// failed retryCount times.
func (p *BackoffPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^retryCount minutes, guarded against shift overflow before clamping.
	if retryCount > 6 {
		return maxBackoff
	}
	d := time.Duration(1<<retryCount) * time.Minute
	if d < minBackoff {
		return minBackoff
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// RecordFailure applies one retryable failure to the operation.
//
// While retry budget remains, the retry count is incremented and the
// operation rescheduled (Pending, ScheduledAt pushed out by Delay). A
// failure arriving with the budget already consumed transitions the
// operation to the terminal Failed state without incrementing past
// MaxRetries. Returns true when the operation became permanently failed.
func (p *BackoffPolicy) RecordFailure(op *Op, cause error) bool {
	now := p.clock.Now()
	op.LastAttemptAt = &now
	if cause != nil {
		msg := cause.Error()
		op.LastError = &msg
	}

	if op.RetryCount >= op.MaxRetries {
		op.Status = StatusFailed
		return true
	}

	op.RetryCount++
	op.Status = StatusPending
	op.ScheduledAt = now.Add(p.Delay(op.RetryCount))
	return false
}

// RecordFatal transitions the operation straight to Failed without touching
// the retry budget. Used for non-retryable failures where retrying a
// fundamentally wrong request cannot help.
func (p *BackoffPolicy) RecordFatal(op *Op, cause error) {
	now := p.clock.Now()
	op.LastAttemptAt = &now
	if cause != nil {
		msg := cause.Error()
		op.LastError = &msg
	}
	op.Status = StatusFailed
}
