package sync

import (
	"time"

	"github.com/chorequest/chorequest/internal/queue"
)

// EventType labels a sync lifecycle event.
type EventType string

const (
	// EventOpCompleted fires when one queued operation reached the remote
	// store and was removed from the queue.
	EventOpCompleted EventType = "op_completed"
	// EventOpRetried fires when a transient failure rescheduled an
	// operation with backoff.
	EventOpRetried EventType = "op_retried"
	// EventOpFailed fires when an operation became permanently failed,
	// either by exhausting retries or by a fatal error. This is the
	// "this change could not be saved" signal.
	EventOpFailed EventType = "op_failed"
	// EventDrainComplete fires after a drain pass finishes.
	EventDrainComplete EventType = "drain_complete"
)

// Event is one sync lifecycle notification. Events are emitted from drain
// goroutines; sinks must be safe for concurrent use and must not block.
type Event struct {
	Type EventType
	Time time.Time

	// Op is set for per-operation events.
	Op *queue.Op
	// Err is set for retried and failed events.
	Err error

	// Completed/Retried/Failed summarize a drain pass.
	Completed int
	Retried   int
	Failed    int
}

// EventSink receives sync lifecycle events.
type EventSink func(Event)
