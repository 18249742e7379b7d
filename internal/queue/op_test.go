package queue

import (
	"testing"
	"time"

	"github.com/chorequest/chorequest/internal/model"
)

// TestParseOperation tests the closed operation set.
func TestParseOperation(t *testing.T) {
	for _, valid := range []string{"insert", "update", "delete", "resync"} {
		if _, err := ParseOperation(valid); err != nil {
			t.Errorf("ParseOperation(%q) failed: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "upsert", "INSERT", "remove"} {
		if _, err := ParseOperation(invalid); err == nil {
			t.Errorf("ParseOperation(%q) succeeded, want error", invalid)
		}
	}
}

// TestOperationPriority tests the fixed drain priorities per kind.
func TestOperationPriority(t *testing.T) {
	tests := []struct {
		op   Operation
		want int
	}{
		{OpInsert, 10},
		{OpUpdate, 8},
		{OpDelete, 6},
		{OpResync, 5},
		{Operation("bogus"), 1},
	}
	for _, tt := range tests {
		if got := tt.op.Priority(); got != tt.want {
			t.Errorf("%q.Priority() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

// TestNewOp tests construction defaults.
func TestNewOp(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	op := NewOp(OpUpdate, model.TypeEntry, "e-1", []byte(`{"id":"e-1"}`), now)

	if op.ID == "" {
		t.Error("ID not assigned")
	}
	if op.Status != StatusPending {
		t.Errorf("Status = %q, want %q", op.Status, StatusPending)
	}
	if op.Priority != 8 {
		t.Errorf("Priority = %d, want 8", op.Priority)
	}
	if op.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", op.MaxRetries, DefaultMaxRetries)
	}
	if !op.CreatedAt.Equal(now) || !op.ScheduledAt.Equal(now) {
		t.Error("timestamps not set to now")
	}
	if err := op.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestOpValidate tests invariant enforcement.
func TestOpValidate(t *testing.T) {
	now := time.Now()

	op := NewOp(OpInsert, model.TypeEntry, "e-1", nil, now)
	op.EntityType = "household"
	if err := op.Validate(); err == nil {
		t.Error("Validate() accepted unknown entity type")
	}

	op = NewOp(OpInsert, model.TypeEntry, "e-1", nil, now)
	op.RetryCount = op.MaxRetries + 1
	if err := op.Validate(); err == nil {
		t.Error("Validate() accepted retry count beyond budget")
	}

	op = NewOp(OpInsert, model.TypeEntry, "e-1", nil, now)
	op.Operation = "upsert"
	if err := op.Validate(); err == nil {
		t.Error("Validate() accepted unknown operation")
	}
}
