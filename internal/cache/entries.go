package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chorequest/chorequest/internal/model"
)

// EntryFilter configures the GetEntries query. Zero values mean "no filter";
// conditions compose conjunctively (owner AND category AND date range AND
// text search).
type EntryFilter struct {
	// CategoryID restricts to entries in one category (empty = all).
	CategoryID string
	// From/To bound EarnedAt (inclusive); nil means unbounded.
	From *time.Time
	To   *time.Time
	// Search matches a substring of the description, case-insensitive.
	Search string
	// Page is 1-based; PageSize defaults to 20 when <= 0.
	Page     int
	PageSize int
}

// EntryPage is one page of filtered results plus pagination metadata.
type EntryPage struct {
	Items       []*model.RewardEntry
	TotalCount  int
	HasNextPage bool
}

const entryColumns = `id, owner_id, description, points, category_id,
       earned_at, created_at, updated_at, version, sync_status`

// CacheEntry inserts or replaces a reward entry by primary key.
// Idempotent: caching the same entry twice leaves the store in the same
// observable state as caching it once.
func (s *Store) CacheEntry(ctx context.Context, e *model.RewardEntry) error {
	if err := e.Validate(); err != nil {
		return storeErr("cache entry", fmt.Errorf("invalid entry: %w", err))
	}

	query := `
	INSERT INTO entries (
		id, owner_id, description, points, category_id,
		earned_at, created_at, updated_at, version, sync_status, deleted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		description = excluded.description,
		points = excluded.points,
		category_id = excluded.category_id,
		earned_at = excluded.earned_at,
		updated_at = excluded.updated_at,
		version = excluded.version,
		sync_status = excluded.sync_status,
		deleted_at = NULL
	`

	_, err := s.conn.ExecContext(ctx, query,
		e.ID,
		e.OwnerID,
		e.Description,
		e.Points,
		nullIfEmpty(e.CategoryID),
		formatTime(e.EarnedAt),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
		e.Version,
		string(e.SyncStatus),
	)
	if err != nil {
		return storeErr("cache entry", err)
	}

	return nil
}

// GetEntry retrieves a single live entry by ID.
// Returns ErrNotFound for missing or tombstoned rows.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.RewardEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ? AND deleted_at IS NULL`

	e, err := scanEntry(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get entry", err)
	}
	return e, nil
}

// GetEntries returns one page of live entries for an owner, filtered and
// ordered by earned_at DESC (newest first), then created_at DESC.
func (s *Store) GetEntries(ctx context.Context, ownerID string, filter EntryFilter) (*EntryPage, error) {
	conditions := []string{"owner_id = ?", "deleted_at IS NULL"}
	args := []interface{}{ownerID}

	if filter.CategoryID != "" {
		conditions = append(conditions, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.From != nil {
		conditions = append(conditions, "earned_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "earned_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	if filter.Search != "" {
		conditions = append(conditions, "description LIKE ? COLLATE NOCASE")
		args = append(args, "%"+filter.Search+"%")
	}

	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM entries" + where
	if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, storeErr("get entries", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + entryColumns + ` FROM entries` + where +
		` ORDER BY earned_at DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get entries", err)
	}
	defer rows.Close()

	items, err := scanEntries(rows)
	if err != nil {
		return nil, storeErr("get entries", err)
	}

	return &EntryPage{
		Items:       items,
		TotalCount:  total,
		HasNextPage: offset+len(items) < total,
	}, nil
}

// UpdateEntry overwrites a cached entry and marks it dirty.
// The caller is responsible for also enqueueing the corresponding sync
// operation (or use SaveEntryAndEnqueue for the atomic variant).
func (s *Store) UpdateEntry(ctx context.Context, e *model.RewardEntry) error {
	e.SyncStatus = model.StatusDirty
	return s.CacheEntry(ctx, e)
}

// DeleteEntry tombstones an entry and marks it dirty. The row stays in the
// cache until PurgeEntry confirms the remote delete, so the delete can be
// retried if the device is offline.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	query := `UPDATE entries SET deleted_at = ?, sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	now := formatTime(time.Now())

	res, err := s.conn.ExecContext(ctx, query, now, string(model.StatusDirty), now, id)
	if err != nil {
		return storeErr("delete entry", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeEntry physically removes an entry row. Called once the remote delete
// has been durably confirmed. Idempotent.
func (s *Store) PurgeEntry(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return storeErr("purge entry", err)
	}
	return nil
}

// MarkEntrySynced flips an entry to synced, adopting the version the remote
// store confirmed.
func (s *Store) MarkEntrySynced(ctx context.Context, id string, version int64) error {
	query := `UPDATE entries SET sync_status = ?, version = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, string(model.StatusSynced), version, id); err != nil {
		return storeErr("mark entry synced", err)
	}
	return nil
}

// GetTotalPoints sums the points of all live cached entries for an owner.
//
// This is the cheap local aggregate, distinct from the remote's denormalized
// counter; the two converge once the queue drains but are never required to
// match instantaneously.
func (s *Store) GetTotalPoints(ctx context.Context, ownerID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(points), 0) FROM entries WHERE owner_id = ? AND deleted_at IS NULL`
	if err := s.conn.QueryRowContext(ctx, query, ownerID).Scan(&total); err != nil {
		return 0, storeErr("get total points", err)
	}
	return total, nil
}

// ClearCache evicts all cached state for an owner: entries, non-default
// categories, and any queued operations. Used on sign-out.
// Rows flagged as system defaults are never removed.
func (s *Store) ClearCache(ctx context.Context, ownerID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("clear cache", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE owner_id = ?`, ownerID); err != nil {
		return storeErr("clear cache", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE owner_id = ? AND is_default = 0`, ownerID); err != nil {
		return storeErr("clear cache", err)
	}
	queueQuery := `
	DELETE FROM sync_queue WHERE entity_id IN (
		SELECT id FROM entries WHERE owner_id = ?
		UNION
		SELECT id FROM categories WHERE owner_id = ? AND is_default = 0
	)`
	if _, err := tx.ExecContext(ctx, queueQuery, ownerID, ownerID); err != nil {
		return storeErr("clear cache", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("clear cache", err)
	}
	return nil
}

// scanEntry reads a single entry row.
func scanEntry(row *sql.Row) (*model.RewardEntry, error) {
	var e model.RewardEntry
	var categoryID sql.NullString
	var earnedAt, createdAt, updatedAt, syncStatus string

	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.Description,
		&e.Points,
		&categoryID,
		&earnedAt,
		&createdAt,
		&updatedAt,
		&e.Version,
		&syncStatus,
	)
	if err != nil {
		return nil, err
	}

	e.CategoryID = categoryID.String
	e.EarnedAt = parseTime(earnedAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.SyncStatus = model.SyncStatus(syncStatus)
	return &e, nil
}

// scanEntries is a helper to scan multiple entries from query results.
func scanEntries(rows *sql.Rows) ([]*model.RewardEntry, error) {
	var entries []*model.RewardEntry

	for rows.Next() {
		var e model.RewardEntry
		var categoryID sql.NullString
		var earnedAt, createdAt, updatedAt, syncStatus string

		err := rows.Scan(
			&e.ID,
			&e.OwnerID,
			&e.Description,
			&e.Points,
			&categoryID,
			&earnedAt,
			&createdAt,
			&updatedAt,
			&e.Version,
			&syncStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		e.CategoryID = categoryID.String
		e.EarnedAt = parseTime(earnedAt)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		e.SyncStatus = model.SyncStatus(syncStatus)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
