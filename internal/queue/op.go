// Package queue defines the durable sync queue records and the retry policy
// applied to them.
//
// A queue operation is a self-contained snapshot of one pending mutation:
// it carries the serialized intended entity state from enqueue time, not a
// pointer at current state, so draining an old operation replays exactly
// what the user did.
package queue

import (
	"fmt"
	"time"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/google/uuid"
)

// Operation is the kind of mutation a queue entry replays against the
// remote store.
type Operation string

const (
	// OpInsert creates the entity remotely.
	OpInsert Operation = "insert"
	// OpUpdate overwrites the remote entity (last-writer-wins).
	OpUpdate Operation = "update"
	// OpDelete removes the entity remotely.
	OpDelete Operation = "delete"
	// OpResync re-pushes current local state, used after recovery.
	OpResync Operation = "resync"
)

// ParseOperation validates a wire-level operation string.
// Anything outside the closed set is a construction-time error.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpInsert, OpUpdate, OpDelete, OpResync:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("unknown sync operation %q", s)
	}
}

// Priority returns the fixed drain priority for an operation kind.
// Higher drains first: creates before updates before deletes.
func (op Operation) Priority() int {
	switch op {
	case OpInsert:
		return 10
	case OpUpdate:
		return 8
	case OpDelete:
		return 6
	case OpResync:
		return 5
	default:
		return 1
	}
}

// Status is the lifecycle state of a queue operation.
type Status string

const (
	// StatusPending means the operation is waiting for an attempt.
	StatusPending Status = "pending"
	// StatusProcessing means a drain loop is attempting the operation now.
	StatusProcessing Status = "processing"
	// StatusCompleted means the remote call succeeded; the row is removed.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: retries exhausted or a non-retryable failure.
	// Failed operations are retained for inspection, never resurrected.
	StatusFailed Status = "failed"
	// StatusCancelled means the operation was withdrawn before an attempt.
	StatusCancelled Status = "cancelled"
)

// DefaultMaxRetries bounds attempts per operation before permanent failure.
const DefaultMaxRetries = 3

// Op is one durable sync queue record.
type Op struct {
	ID         string           `json:"id"`
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Operation  Operation        `json:"operation"`

	// Payload is the serialized intended state at enqueue time.
	// Empty for deletes.
	Payload []byte `json:"payload,omitempty"`

	Status   Status `json:"status"`
	Priority int    `json:"priority"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	CreatedAt     time.Time  `json:"created_at"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

// NewOp constructs a pending queue operation for the given mutation.
// The payload must already be serialized (see model.Payload.Marshal);
// this is the only step of enqueueing that can fail, and it fails before
// NewOp is reached.
func NewOp(op Operation, entityType model.EntityType, entityID string, payload []byte, now time.Time) *Op {
	return &Op{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		Payload:     payload,
		Status:      StatusPending,
		Priority:    op.Priority(),
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

// Validate checks the operation's invariants.
func (o *Op) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := model.ParseEntityType(string(o.EntityType)); err != nil {
		return err
	}
	if o.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if _, err := ParseOperation(string(o.Operation)); err != nil {
		return err
	}
	if o.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive (got %d)", o.MaxRetries)
	}
	if o.RetryCount > o.MaxRetries {
		return fmt.Errorf("retry_count %d exceeds max_retries %d", o.RetryCount, o.MaxRetries)
	}
	return nil
}

// Ready reports whether the operation is eligible for an attempt at now.
// An operation whose retry budget is exactly consumed is still eligible for
// one more attempt; a failure on that attempt is terminal (see BackoffPolicy).
func (o *Op) Ready(now time.Time) bool {
	return o.Status == StatusPending &&
		o.RetryCount <= o.MaxRetries &&
		!now.Before(o.ScheduledAt)
}
