package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/chorequest/chorequest/internal/model"
)

// fakeClock is a manually advanced Clock for backoff tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestOp(clock Clock) *Op {
	return NewOp(OpInsert, model.TypeEntry, "e-1", []byte(`{}`), clock.Now())
}

// TestDelay_Clamped tests the exponential delay formula and its bounds.
func TestDelay_Clamped(t *testing.T) {
	p := NewBackoffPolicy(nil)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 32 * time.Minute},
		{6, 60 * time.Minute},
		{7, 60 * time.Minute},
		{100, 60 * time.Minute},
		{-1, 1 * time.Minute},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.retryCount); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

// TestRecordFailure_BackoffMonotonicity tests that with MaxRetries = 3,
// three failures reschedule with deltas of 2, 4 and 8 minutes and a fourth
// failure is terminal without incrementing past MaxRetries.
func TestRecordFailure_BackoffMonotonicity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	p := NewBackoffPolicy(clock)
	op := newTestOp(clock)

	wantDeltas := []time.Duration{2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, want := range wantDeltas {
		failed := p.RecordFailure(op, errors.New("remote unavailable"))
		if failed {
			t.Fatalf("failure %d reported terminal, want reschedule", i+1)
		}
		if op.Status != StatusPending {
			t.Fatalf("failure %d: status = %q, want %q", i+1, op.Status, StatusPending)
		}
		if op.RetryCount != i+1 {
			t.Errorf("failure %d: retry count = %d, want %d", i+1, op.RetryCount, i+1)
		}
		if got := op.ScheduledAt.Sub(clock.Now()); got != want {
			t.Errorf("failure %d: scheduled delta = %v, want %v", i+1, got, want)
		}
		clock.Advance(want)
	}

	// Fourth failure: budget consumed, terminal.
	if failed := p.RecordFailure(op, errors.New("remote unavailable")); !failed {
		t.Fatal("fourth failure not terminal")
	}
	if op.Status != StatusFailed {
		t.Errorf("status = %q, want %q", op.Status, StatusFailed)
	}
	if op.RetryCount != op.MaxRetries {
		t.Errorf("retry count = %d, want %d (never incremented past budget)", op.RetryCount, op.MaxRetries)
	}
	if op.LastError == nil || *op.LastError != "remote unavailable" {
		t.Errorf("last error not recorded: %v", op.LastError)
	}
}

// TestRecordFatal_BypassesBudget tests that a fatal failure is terminal on
// the first attempt with the retry count untouched.
func TestRecordFatal_BypassesBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	p := NewBackoffPolicy(clock)
	op := newTestOp(clock)

	p.RecordFatal(op, errors.New("permission denied"))

	if op.Status != StatusFailed {
		t.Errorf("status = %q, want %q", op.Status, StatusFailed)
	}
	if op.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 (fatal path bypasses backoff)", op.RetryCount)
	}
	if op.LastAttemptAt == nil || !op.LastAttemptAt.Equal(clock.Now()) {
		t.Errorf("last attempt not stamped: %v", op.LastAttemptAt)
	}
}

// TestReady tests the readiness predicate.
func TestReady(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	op := newTestOp(clock)

	if !op.Ready(clock.Now()) {
		t.Error("fresh pending op not ready")
	}

	op.ScheduledAt = clock.Now().Add(time.Minute)
	if op.Ready(clock.Now()) {
		t.Error("op ready before its scheduled time")
	}
	if !op.Ready(clock.Now().Add(time.Minute)) {
		t.Error("op not ready at its scheduled time")
	}

	op.ScheduledAt = clock.Now()
	op.Status = StatusProcessing
	if op.Ready(clock.Now()) {
		t.Error("processing op reported ready")
	}

	op.Status = StatusFailed
	if op.Ready(clock.Now()) {
		t.Error("failed op reported ready")
	}
}
