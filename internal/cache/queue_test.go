package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/queue"
)

func testOp(t *testing.T, kind queue.Operation, entityID string, created time.Time) *queue.Op {
	t.Helper()
	var payload []byte
	if kind != queue.OpDelete {
		p := model.EntryPayload(testEntry(entityID, "owner-1", 5))
		data, err := p.Marshal()
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		payload = data
	}
	return queue.NewOp(kind, model.TypeEntry, entityID, payload, created)
}

// TestQueueSyncOperation_RoundTrip tests durable persistence of every field.
func TestQueueSyncOperation_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	op := testOp(t, queue.OpInsert, "e-1", now)
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}

	ops, err := s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d operations, want 1", len(ops))
	}

	got := ops[0]
	if got.ID != op.ID || got.EntityType != model.TypeEntry ||
		got.EntityID != "e-1" || got.Operation != queue.OpInsert {
		t.Errorf("identity fields mangled: %+v", got)
	}
	if got.Status != queue.StatusPending || got.Priority != 10 ||
		got.RetryCount != 0 || got.MaxRetries != queue.DefaultMaxRetries {
		t.Errorf("lifecycle fields mangled: %+v", got)
	}
	if len(got.Payload) == 0 {
		t.Error("payload not persisted")
	}
	if got.LastAttemptAt != nil || got.LastError != nil {
		t.Errorf("attempt fields should be unset: %+v", got)
	}

	p, err := model.UnmarshalPayload(got.EntityType, got.Payload)
	if err != nil {
		t.Fatalf("UnmarshalPayload() failed: %v", err)
	}
	if p.Entry == nil || p.Entry.ID != "e-1" {
		t.Errorf("payload entry = %+v, want e-1", p.Entry)
	}
}

// TestReadySyncOperations_Ordering tests priority DESC, created_at ASC.
func TestReadySyncOperations_Ordering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	del := testOp(t, queue.OpDelete, "e-del", base)
	upd1 := testOp(t, queue.OpUpdate, "e-upd", base.Add(1*time.Second))
	upd2 := testOp(t, queue.OpUpdate, "e-upd", base.Add(2*time.Second))
	ins := testOp(t, queue.OpInsert, "e-ins", base.Add(3*time.Second))

	// Insert out of drain order on purpose.
	for _, op := range []*queue.Op{del, upd2, ins, upd1} {
		if err := s.QueueSyncOperation(ctx, op); err != nil {
			t.Fatalf("QueueSyncOperation() failed: %v", err)
		}
	}

	ops, err := s.ReadySyncOperations(ctx, base.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("ReadySyncOperations() failed: %v", err)
	}

	wantIDs := []string{ins.ID, upd1.ID, upd2.ID, del.ID}
	if len(ops) != len(wantIDs) {
		t.Fatalf("got %d operations, want %d", len(ops), len(wantIDs))
	}
	for i, want := range wantIDs {
		if ops[i].ID != want {
			t.Errorf("position %d = %s (%s), want %s",
				i, ops[i].ID, ops[i].Operation, want)
		}
	}
}

// TestReadySyncOperations_ScheduledGate tests that backed-off operations
// stay invisible until their scheduled time.
func TestReadySyncOperations_ScheduledGate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	op := testOp(t, queue.OpInsert, "e-1", base)
	op.ScheduledAt = base.Add(2 * time.Minute)
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}

	ops, err := s.ReadySyncOperations(ctx, base.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("ReadySyncOperations() failed: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("got %d operations before scheduled_at, want 0", len(ops))
	}

	ops, err = s.ReadySyncOperations(ctx, base.Add(2*time.Minute), 0)
	if err != nil {
		t.Fatalf("ReadySyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("got %d operations at scheduled_at, want 1", len(ops))
	}
}

// TestMarkSyncOperationProcessing_ClaimsOnce tests the pending-only claim.
func TestMarkSyncOperationProcessing_ClaimsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	op := testOp(t, queue.OpInsert, "e-1", time.Now().UTC())
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}

	if err := s.MarkSyncOperationProcessing(ctx, op.ID); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := s.MarkSyncOperationProcessing(ctx, op.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second claim = %v, want ErrNotFound", err)
	}
}

// TestResetProcessingOperations tests requeueing claimed operations that
// were never settled, as after a crash mid-drain.
func TestResetProcessingOperations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claimed := testOp(t, queue.OpInsert, "e-1", base)
	untouched := testOp(t, queue.OpUpdate, "e-2", base.Add(time.Second))
	for _, op := range []*queue.Op{claimed, untouched} {
		if err := s.QueueSyncOperation(ctx, op); err != nil {
			t.Fatalf("QueueSyncOperation() failed: %v", err)
		}
	}
	if err := s.MarkSyncOperationProcessing(ctx, claimed.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	n, err := s.ResetProcessingOperations(ctx)
	if err != nil {
		t.Fatalf("ResetProcessingOperations() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d operations, want 1", n)
	}

	counts, err := s.SyncQueueCounts(ctx)
	if err != nil {
		t.Fatalf("SyncQueueCounts() failed: %v", err)
	}
	if counts[queue.StatusPending] != 2 || counts[queue.StatusProcessing] != 0 {
		t.Errorf("counts = %v, want 2 pending and no processing", counts)
	}

	// Both rows are selectable again.
	ops, err := s.ReadySyncOperations(ctx, base.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("ReadySyncOperations() failed: %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("got %d ready operations, want 2", len(ops))
	}

	// Nothing in processing: reset is a no-op.
	n, err = s.ResetProcessingOperations(ctx)
	if err != nil {
		t.Fatalf("ResetProcessingOperations() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("reset %d operations on a clean queue, want 0", n)
	}
}

// TestUpdateSyncOperation_RetryBookkeeping tests persisting a failed attempt.
func TestUpdateSyncOperation_RetryBookkeeping(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	op := testOp(t, queue.OpInsert, "e-1", base)
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}

	attempt := base.Add(time.Second)
	msg := "remote unavailable"
	op.RetryCount = 1
	op.ScheduledAt = base.Add(2 * time.Minute)
	op.LastAttemptAt = &attempt
	op.LastError = &msg
	if err := s.UpdateSyncOperation(ctx, op); err != nil {
		t.Fatalf("UpdateSyncOperation() failed: %v", err)
	}

	ops, err := s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d operations, want 1", len(ops))
	}
	got := ops[0]
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if !got.ScheduledAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, base.Add(2*time.Minute))
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(attempt) {
		t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, attempt)
	}
	if got.LastError == nil || *got.LastError != msg {
		t.Errorf("LastError = %v, want %q", got.LastError, msg)
	}
}

// TestCompleteSyncOperation_Removes tests that drained operations disappear.
func TestCompleteSyncOperation_Removes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	op := testOp(t, queue.OpInsert, "e-1", time.Now().UTC())
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}
	if err := s.CompleteSyncOperation(ctx, op.ID); err != nil {
		t.Fatalf("CompleteSyncOperation() failed: %v", err)
	}

	counts, err := s.SyncQueueCounts(ctx)
	if err != nil {
		t.Fatalf("SyncQueueCounts() failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("counts = %v, want empty", counts)
	}
}

// TestCancelSyncOperation tests withdrawal of a pending operation.
func TestCancelSyncOperation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	op := testOp(t, queue.OpUpdate, "e-1", time.Now().UTC())
	if err := s.QueueSyncOperation(ctx, op); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}
	if err := s.CancelSyncOperation(ctx, op.ID); err != nil {
		t.Fatalf("CancelSyncOperation() failed: %v", err)
	}

	// A processing operation cannot be cancelled.
	op2 := testOp(t, queue.OpUpdate, "e-2", time.Now().UTC())
	if err := s.QueueSyncOperation(ctx, op2); err != nil {
		t.Fatalf("QueueSyncOperation() failed: %v", err)
	}
	if err := s.MarkSyncOperationProcessing(ctx, op2.ID); err != nil {
		t.Fatalf("MarkSyncOperationProcessing() failed: %v", err)
	}
	if err := s.CancelSyncOperation(ctx, op2.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel of processing op = %v, want ErrNotFound", err)
	}
}

// TestSaveEntryAndEnqueue_Atomic tests that entity and queue row commit
// together, and that a validation failure commits neither.
func TestSaveEntryAndEnqueue_Atomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := testEntry("e-1", "owner-1", 10)
	op := testOp(t, queue.OpInsert, "e-1", now)
	if err := s.SaveEntryAndEnqueue(ctx, e, op); err != nil {
		t.Fatalf("SaveEntryAndEnqueue() failed: %v", err)
	}

	if _, err := s.GetEntry(ctx, "e-1"); err != nil {
		t.Errorf("GetEntry() after save failed: %v", err)
	}
	ops, err := s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("got %d queue operations, want 1", len(ops))
	}

	// Invalid entry: nothing is written.
	bad := testEntry("", "owner-1", 10)
	badOp := testOp(t, queue.OpInsert, "e-2", now)
	if err := s.SaveEntryAndEnqueue(ctx, bad, badOp); err == nil {
		t.Fatal("SaveEntryAndEnqueue() with invalid entry succeeded")
	}
	ops, err = s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("got %d queue operations after failed save, want 1", len(ops))
	}
}

// TestDeleteEntryAndEnqueue_Atomic tests the tombstone-plus-enqueue pair.
func TestDeleteEntryAndEnqueue_Atomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CacheEntry(ctx, testEntry("e-1", "owner-1", 10)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}

	op := testOp(t, queue.OpDelete, "e-1", now)
	if err := s.DeleteEntryAndEnqueue(ctx, "e-1", op); err != nil {
		t.Fatalf("DeleteEntryAndEnqueue() failed: %v", err)
	}

	if _, err := s.GetEntry(ctx, "e-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() after delete = %v, want ErrNotFound", err)
	}
	ops, err := s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != queue.OpDelete {
		t.Errorf("queue ops = %+v, want one delete", ops)
	}

	// Deleting a missing entry enqueues nothing.
	ghost := testOp(t, queue.OpDelete, "ghost", now)
	if err := s.DeleteEntryAndEnqueue(ctx, "ghost", ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteEntryAndEnqueue() on missing entry = %v, want ErrNotFound", err)
	}
	ops, err = s.PendingSyncOperations(ctx)
	if err != nil {
		t.Fatalf("PendingSyncOperations() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("got %d queue operations, want 1", len(ops))
	}
}

// TestSyncQueueCounts tests the per-status tally.
func TestSyncQueueCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := testOp(t, queue.OpInsert, "e-1", now)
	b := testOp(t, queue.OpUpdate, "e-2", now)
	c := testOp(t, queue.OpDelete, "e-3", now)
	for _, op := range []*queue.Op{a, b, c} {
		if err := s.QueueSyncOperation(ctx, op); err != nil {
			t.Fatalf("QueueSyncOperation() failed: %v", err)
		}
	}
	if err := s.MarkSyncOperationProcessing(ctx, c.ID); err != nil {
		t.Fatalf("MarkSyncOperationProcessing() failed: %v", err)
	}

	counts, err := s.SyncQueueCounts(ctx)
	if err != nil {
		t.Fatalf("SyncQueueCounts() failed: %v", err)
	}
	if counts[queue.StatusPending] != 2 || counts[queue.StatusProcessing] != 1 {
		t.Errorf("counts = %v, want 2 pending / 1 processing", counts)
	}
}
