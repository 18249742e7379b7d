package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/queue"
)

const queueColumns = `id, entity_type, entity_id, operation, payload,
       status, priority, retry_count, max_retries,
       created_at, scheduled_at, last_attempt_at, last_error`

// QueueSyncOperation appends a durable queue operation.
//
// Enqueue is always local and synchronous: it can fail only on storage or
// serialization problems, never on connectivity.
func (s *Store) QueueSyncOperation(ctx context.Context, op *queue.Op) error {
	if err := op.Validate(); err != nil {
		return storeErr("queue sync operation", fmt.Errorf("invalid operation: %w", err))
	}
	if err := insertQueueOp(ctx, s.conn, op); err != nil {
		return storeErr("queue sync operation", err)
	}
	return nil
}

// ReadySyncOperations returns operations eligible for an attempt at now,
// ordered by (priority DESC, created_at ASC): creates before deletes, FIFO
// within a priority to preserve causal ordering of same-entity edits.
// limit <= 0 means no limit.
func (s *Store) ReadySyncOperations(ctx context.Context, now time.Time, limit int) ([]*queue.Op, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status = ? AND retry_count <= max_retries AND scheduled_at <= ?
	ORDER BY priority DESC, created_at ASC`

	args := []interface{}{string(queue.StatusPending), formatTime(now)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ready sync operations", err)
	}
	defer rows.Close()

	ops, err := scanOps(rows)
	if err != nil {
		return nil, storeErr("ready sync operations", err)
	}
	return ops, nil
}

// PendingSyncOperations returns every operation still awaiting an attempt,
// ready or not, in drain order.
func (s *Store) PendingSyncOperations(ctx context.Context) ([]*queue.Op, error) {
	return s.opsByStatus(ctx, queue.StatusPending)
}

// FailedSyncOperations returns terminally failed operations, retained for
// inspection. These are the "this change could not be saved" conditions
// calling code should poll for and present.
func (s *Store) FailedSyncOperations(ctx context.Context) ([]*queue.Op, error) {
	return s.opsByStatus(ctx, queue.StatusFailed)
}

func (s *Store) opsByStatus(ctx context.Context, status queue.Status) ([]*queue.Op, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status = ? ORDER BY priority DESC, created_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, storeErr("list sync operations", err)
	}
	defer rows.Close()

	ops, err := scanOps(rows)
	if err != nil {
		return nil, storeErr("list sync operations", err)
	}
	return ops, nil
}

// MarkSyncOperationProcessing transitions Pending -> Processing for one
// attempt. Returns ErrNotFound if the operation is gone or no longer
// pending, which lets concurrent drains skip rows another worker claimed.
func (s *Store) MarkSyncOperationProcessing(ctx context.Context, id string) error {
	query := `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := s.conn.ExecContext(ctx, query,
		string(queue.StatusProcessing), id, string(queue.StatusPending))
	if err != nil {
		return storeErr("mark sync operation processing", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetProcessingOperations flips every Processing operation back to
// Pending and reports how many rows were touched. A Processing row can
// outlive its attempt only when the process died or the drain was
// cancelled between claim and settle; since at most one drain runs per
// device, any Processing row observed at the start of a drain is stale
// and must be requeued or it would never be attempted again.
func (s *Store) ResetProcessingOperations(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(queue.StatusPending), string(queue.StatusProcessing))
	if err != nil {
		return 0, storeErr("reset processing operations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("reset processing operations", err)
	}
	return int(n), nil
}

// UpdateSyncOperation persists retry bookkeeping after a failed attempt:
// status, retry count, scheduling time and last error.
func (s *Store) UpdateSyncOperation(ctx context.Context, op *queue.Op) error {
	query := `UPDATE sync_queue SET
		status = ?, retry_count = ?, scheduled_at = ?,
		last_attempt_at = ?, last_error = ?
	WHERE id = ?`

	_, err := s.conn.ExecContext(ctx, query,
		string(op.Status),
		op.RetryCount,
		formatTime(op.ScheduledAt),
		timeToNullString(op.LastAttemptAt),
		nullStringPtr(op.LastError),
		op.ID,
	)
	if err != nil {
		return storeErr("update sync operation", err)
	}
	return nil
}

// CompleteSyncOperation removes a successfully drained operation.
func (s *Store) CompleteSyncOperation(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return storeErr("complete sync operation", err)
	}
	return nil
}

// CancelSyncOperation withdraws a pending operation before any attempt.
func (s *Store) CancelSyncOperation(ctx context.Context, id string) error {
	query := `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := s.conn.ExecContext(ctx, query,
		string(queue.StatusCancelled), id, string(queue.StatusPending))
	if err != nil {
		return storeErr("cancel sync operation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncQueueCounts returns the number of operations per status.
func (s *Store) SyncQueueCounts(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, storeErr("sync queue counts", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr("sync queue counts", err)
		}
		counts[queue.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("sync queue counts", err)
	}
	return counts, nil
}

// SaveEntryAndEnqueue commits an entry mutation and its queue operation in
// a single local transaction, so a crash between the two never leaves a
// dirty entity with no queue operation covering it.
func (s *Store) SaveEntryAndEnqueue(ctx context.Context, e *model.RewardEntry, op *queue.Op) error {
	if err := e.Validate(); err != nil {
		return storeErr("save entry", fmt.Errorf("invalid entry: %w", err))
	}
	if err := op.Validate(); err != nil {
		return storeErr("save entry", fmt.Errorf("invalid operation: %w", err))
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("save entry", err)
	}
	defer tx.Rollback()

	upsert := `
	INSERT INTO entries (
		id, owner_id, description, points, category_id,
		earned_at, created_at, updated_at, version, sync_status, deleted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT(id) DO UPDATE SET
		description = excluded.description,
		points = excluded.points,
		category_id = excluded.category_id,
		earned_at = excluded.earned_at,
		updated_at = excluded.updated_at,
		version = excluded.version,
		sync_status = excluded.sync_status,
		deleted_at = NULL
	`
	_, err = tx.ExecContext(ctx, upsert,
		e.ID, e.OwnerID, e.Description, e.Points, nullIfEmpty(e.CategoryID),
		formatTime(e.EarnedAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		e.Version, string(e.SyncStatus),
	)
	if err != nil {
		return storeErr("save entry", err)
	}

	if err := insertQueueOp(ctx, tx, op); err != nil {
		return storeErr("save entry", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("save entry", err)
	}
	return nil
}

// DeleteEntryAndEnqueue tombstones an entry and appends its delete
// operation in one transaction.
func (s *Store) DeleteEntryAndEnqueue(ctx context.Context, id string, op *queue.Op) error {
	if err := op.Validate(); err != nil {
		return storeErr("delete entry", fmt.Errorf("invalid operation: %w", err))
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete entry", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET deleted_at = ?, sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, string(model.StatusDirty), now, id)
	if err != nil {
		return storeErr("delete entry", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := insertQueueOp(ctx, tx, op); err != nil {
		return storeErr("delete entry", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete entry", err)
	}
	return nil
}

// DeleteCategoryAndEnqueue tombstones a category and appends its delete
// operation in one transaction.
func (s *Store) DeleteCategoryAndEnqueue(ctx context.Context, id string, op *queue.Op) error {
	if err := op.Validate(); err != nil {
		return storeErr("delete category", fmt.Errorf("invalid operation: %w", err))
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete category", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE categories SET deleted_at = ?, sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, string(model.StatusDirty), now, id)
	if err != nil {
		return storeErr("delete category", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := insertQueueOp(ctx, tx, op); err != nil {
		return storeErr("delete category", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete category", err)
	}
	return nil
}

// SaveCategoryAndEnqueue commits a category mutation and its queue
// operation in a single local transaction.
func (s *Store) SaveCategoryAndEnqueue(ctx context.Context, c *model.Category, op *queue.Op) error {
	if err := c.Validate(); err != nil {
		return storeErr("save category", fmt.Errorf("invalid category: %w", err))
	}
	if err := op.Validate(); err != nil {
		return storeErr("save category", fmt.Errorf("invalid operation: %w", err))
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("save category", err)
	}
	defer tx.Rollback()

	upsert := `
	INSERT INTO categories (
		id, owner_id, name, color, is_default,
		created_at, updated_at, version, sync_status, deleted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		is_default = excluded.is_default,
		updated_at = excluded.updated_at,
		version = excluded.version,
		sync_status = excluded.sync_status,
		deleted_at = NULL
	`
	_, err = tx.ExecContext(ctx, upsert,
		c.ID, c.OwnerID, c.Name, nullIfEmpty(c.Color), boolToInt(c.IsDefault),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
		c.Version, string(c.SyncStatus),
	)
	if err != nil {
		return storeErr("save category", err)
	}

	if err := insertQueueOp(ctx, tx, op); err != nil {
		return storeErr("save category", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("save category", err)
	}
	return nil
}

// execer covers both *sql.DB and *sql.Tx for queue row insertion.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertQueueOp(ctx context.Context, db execer, op *queue.Op) error {
	query := `
	INSERT INTO sync_queue (
		id, entity_type, entity_id, operation, payload,
		status, priority, retry_count, max_retries,
		created_at, scheduled_at, last_attempt_at, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		op.ID,
		string(op.EntityType),
		op.EntityID,
		string(op.Operation),
		op.Payload,
		string(op.Status),
		op.Priority,
		op.RetryCount,
		op.MaxRetries,
		formatTime(op.CreatedAt),
		formatTime(op.ScheduledAt),
		timeToNullString(op.LastAttemptAt),
		nullStringPtr(op.LastError),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue operation: %w", err)
	}
	return nil
}

// scanOps is a helper to scan multiple queue operations.
func scanOps(rows *sql.Rows) ([]*queue.Op, error) {
	var ops []*queue.Op

	for rows.Next() {
		var op queue.Op
		var entityType, operation, status string
		var payload []byte
		var createdAt, scheduledAt string
		var lastAttemptAt, lastError sql.NullString

		err := rows.Scan(
			&op.ID,
			&entityType,
			&op.EntityID,
			&operation,
			&payload,
			&status,
			&op.Priority,
			&op.RetryCount,
			&op.MaxRetries,
			&createdAt,
			&scheduledAt,
			&lastAttemptAt,
			&lastError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue operation: %w", err)
		}

		op.EntityType = model.EntityType(entityType)
		op.Operation = queue.Operation(operation)
		op.Payload = payload
		op.Status = queue.Status(status)
		op.CreatedAt = parseTime(createdAt)
		op.ScheduledAt = parseTime(scheduledAt)
		op.LastAttemptAt = nullStringToTime(lastAttemptAt)
		if lastError.Valid {
			msg := lastError.String
			op.LastError = &msg
		}

		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue operations: %w", err)
	}

	return ops, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
