// Package remote implements the libSQL (Turso) adapter for the shared
// authoritative store.
//
// Each family shares one remote database; every device pushes its queued
// mutations here and reads totals and entry pages back. The adapter keeps
// entity writes and the per-owner points counter in the same transaction,
// so the counter can never drift from the rows it summarizes, and it
// classifies every failure onto a closed error code set so the sync
// orchestrator can decide between retrying and giving up.
//
// Connection URLs follow the libSQL driver: "libsql://name.turso.io?authToken=..."
// for the hosted service, "file:path" for a local or embedded replica.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chorequest/chorequest/internal/model"
	_ "github.com/tursodatabase/go-libsql"
)

// Per-call deadlines. Reads are cheap, single writes carry a transaction,
// chunked batches get the longest budget.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
	batchTimeout = 30 * time.Second
)

// batchChunkSize bounds rows per batch transaction so one oversized batch
// cannot hold the remote write lock for the whole call.
const batchChunkSize = 500

// Store is the remote store adapter backed by libSQL.
type Store struct {
	conn *sql.DB
	url  string
}

// Open connects to the remote store at the given libSQL URL.
//
// The connection is verified with a ping before returning. The caller MUST
// call Close() when done.
//
// Example:
//
//	store, err := remote.Open("libsql://family.turso.io?authToken=" + token)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(url string) (*Store, error) {
	conn, err := sql.Open("libsql", url)
	if err != nil {
		return nil, errf(CodeUnavailable, "open", "failed to open remote database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, translate("open", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{conn: conn, url: url}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close remote database: %w", err)
	}
	return nil
}

// InitSchema creates the authoritative tables if they don't exist.
// Safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	// The libsql driver silently executes only the first statement of a
	// multi-statement Exec, so each DDL statement runs on its own.
	schema := []string{`
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		description TEXT NOT NULL,
		points INTEGER NOT NULL,
		category_id TEXT,
		earned_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`, `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`, `
	CREATE TABLE IF NOT EXISTS owner_totals (
		owner_id TEXT PRIMARY KEY,
		total_points INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`, `
	CREATE INDEX IF NOT EXISTS idx_remote_entries_owner
		ON entries(owner_id, created_at DESC, id DESC)`, `
	CREATE INDEX IF NOT EXISTS idx_remote_entries_updated
		ON entries(owner_id, updated_at)`, `
	CREATE INDEX IF NOT EXISTS idx_remote_categories_owner
		ON categories(owner_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return translate("init schema", err)
		}
	}
	return nil
}

// AddEntry inserts a new entry and increments the owner's cached points
// counter in the same transaction. The counter is adjusted with a relative
// UPDATE, never read-modify-write, so concurrent devices cannot lose each
// other's increments.
//
// Returns the stored version. A replayed insert (same ID already present)
// fails with CodeAlreadyExists; callers replaying a queue may treat that
// as success.
func (s *Store) AddEntry(ctx context.Context, e *model.RewardEntry) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, translate("add entry", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (id, owner_id, description, points, category_id,
			earned_at, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Description, e.Points, nullIfEmpty(e.CategoryID),
		formatTime(e.EarnedAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		e.Version,
	)
	if err != nil {
		return 0, translate("add entry", err)
	}

	if err := adjustTotal(ctx, tx, e.OwnerID, e.Points); err != nil {
		return 0, translate("add entry", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, translate("add entry", err)
	}
	return e.Version, nil
}

// UpdateEntry overwrites the remote entry under last-writer-wins and
// applies the points delta to the owner's counter atomically. The stored
// version becomes remote version + 1, which the caller adopts locally.
func (s *Store) UpdateEntry(ctx context.Context, e *model.RewardEntry) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, translate("update entry", err)
	}
	defer tx.Rollback()

	var oldPoints int
	var oldVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT points, version FROM entries WHERE id = ?`, e.ID).
		Scan(&oldPoints, &oldVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errf(CodeNotFound, "update entry", "entry %s not found", e.ID)
	}
	if err != nil {
		return 0, translate("update entry", err)
	}

	newVersion := oldVersion + 1
	_, err = tx.ExecContext(ctx, `
		UPDATE entries SET description = ?, points = ?, category_id = ?,
			earned_at = ?, updated_at = ?, version = ?
		WHERE id = ?`,
		e.Description, e.Points, nullIfEmpty(e.CategoryID),
		formatTime(e.EarnedAt), formatTime(e.UpdatedAt), newVersion, e.ID,
	)
	if err != nil {
		return 0, translate("update entry", err)
	}

	if delta := e.Points - oldPoints; delta != 0 {
		if err := adjustTotal(ctx, tx, e.OwnerID, delta); err != nil {
			return 0, translate("update entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, translate("update entry", err)
	}
	return newVersion, nil
}

// DeleteEntry removes the remote entry and decrements the owner's counter
// in one transaction. A missing entry is CodeNotFound; queue replays after
// a partially observed delete treat that as success.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return translate("delete entry", err)
	}
	defer tx.Rollback()

	var ownerID string
	var points int
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, points FROM entries WHERE id = ?`, id).
		Scan(&ownerID, &points)
	if errors.Is(err, sql.ErrNoRows) {
		return errf(CodeNotFound, "delete entry", "entry %s not found", id)
	}
	if err != nil {
		return translate("delete entry", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return translate("delete entry", err)
	}
	if err := adjustTotal(ctx, tx, ownerID, -points); err != nil {
		return translate("delete entry", err)
	}

	if err := tx.Commit(); err != nil {
		return translate("delete entry", err)
	}
	return nil
}

// BatchUpdate upserts entries in chunks, each chunk one transaction with
// its counter adjustments. Used by resync after recovery. Versions follow
// last-writer-wins: an existing row moves to version+1, a new row keeps
// the pushed version. Returns the entries as committed, with the versions
// the store assigned.
func (s *Store) BatchUpdate(ctx context.Context, entries []*model.RewardEntry) ([]*model.RewardEntry, error) {
	updated := make([]*model.RewardEntry, 0, len(entries))
	for start := 0; start < len(entries); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk, err := s.batchChunk(ctx, entries[start:end])
		if err != nil {
			return nil, err
		}
		updated = append(updated, chunk...)
	}
	return updated, nil
}

func (s *Store) batchChunk(ctx context.Context, chunk []*model.RewardEntry) ([]*model.RewardEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate("batch update", err)
	}
	defer tx.Rollback()

	updated := make([]*model.RewardEntry, 0, len(chunk))
	for _, e := range chunk {
		var oldPoints int
		var oldVersion int64
		err := tx.QueryRowContext(ctx,
			`SELECT points, version FROM entries WHERE id = ?`, e.ID).
			Scan(&oldPoints, &oldVersion)

		committed := *e
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entries (id, owner_id, description, points, category_id,
					earned_at, created_at, updated_at, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.OwnerID, e.Description, e.Points, nullIfEmpty(e.CategoryID),
				formatTime(e.EarnedAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
				e.Version,
			)
			if err != nil {
				return nil, translate("batch update", err)
			}
			if err := adjustTotal(ctx, tx, e.OwnerID, e.Points); err != nil {
				return nil, translate("batch update", err)
			}
		case err != nil:
			return nil, translate("batch update", err)
		default:
			committed.Version = oldVersion + 1
			_, err = tx.ExecContext(ctx, `
				UPDATE entries SET description = ?, points = ?, category_id = ?,
					earned_at = ?, updated_at = ?, version = ?
				WHERE id = ?`,
				e.Description, e.Points, nullIfEmpty(e.CategoryID),
				formatTime(e.EarnedAt), formatTime(e.UpdatedAt), committed.Version, e.ID,
			)
			if err != nil {
				return nil, translate("batch update", err)
			}
			if delta := e.Points - oldPoints; delta != 0 {
				if err := adjustTotal(ctx, tx, e.OwnerID, delta); err != nil {
					return nil, translate("batch update", err)
				}
			}
		}
		updated = append(updated, &committed)
	}

	if err := tx.Commit(); err != nil {
		return nil, translate("batch update", err)
	}
	return updated, nil
}

// GetEntry fetches one remote entry.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.RewardEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	row := s.conn.QueryRowContext(ctx, `
		SELECT id, owner_id, description, points, category_id,
			earned_at, created_at, updated_at, version
		FROM entries WHERE id = ?`, id)

	e, err := scanRemoteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errf(CodeNotFound, "get entry", "entry %s not found", id)
	}
	if err != nil {
		return nil, translate("get entry", err)
	}
	return e, nil
}

// GetTotalPoints returns the owner's points total, preferring the cached
// counter row. On a miss the total is computed server-side and persisted
// as the new counter, so the first read pays for materialization once.
func (s *Store) GetTotalPoints(ctx context.Context, ownerID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var total int
	err := s.conn.QueryRowContext(ctx,
		`SELECT total_points FROM owner_totals WHERE owner_id = ?`, ownerID).
		Scan(&total)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, translate("get total points", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, translate("get total points", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM entries WHERE owner_id = ?`, ownerID).
		Scan(&total)
	if err != nil {
		return 0, translate("get total points", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO owner_totals (owner_id, total_points, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			total_points = excluded.total_points,
			updated_at = excluded.updated_at`,
		ownerID, total, formatTime(time.Now()),
	)
	if err != nil {
		return 0, translate("get total points", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, translate("get total points", err)
	}
	return total, nil
}

// EntriesPage is one keyset page of remote entries, newest first.
type EntriesPage struct {
	Items []*model.RewardEntry
	// NextCursor is non-empty when more pages exist; pass it back to
	// GetEntriesPage to continue. Cursors stay valid across writes,
	// unlike offsets.
	NextCursor string
}

// GetEntriesPage returns one page of the owner's entries ordered by
// (created_at DESC, id DESC). An empty cursor starts at the newest entry.
func (s *Store) GetEntriesPage(ctx context.Context, ownerID, cursor string, limit int) (*EntriesPage, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, owner_id, description, points, category_id,
			earned_at, created_at, updated_at, version
		FROM entries WHERE owner_id = ?`
	args := []interface{}{ownerID}

	if cursor != "" {
		createdAt, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, errf(CodeInvalidArgument, "get entries page", "bad cursor: %w", err)
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, createdAt, createdAt, id)
	}

	// Fetch one extra row to detect whether a next page exists.
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("get entries page", err)
	}
	defer rows.Close()

	var items []*model.RewardEntry
	for rows.Next() {
		e, err := scanRemoteEntry(rows)
		if err != nil {
			return nil, translate("get entries page", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("get entries page", err)
	}

	page := &EntriesPage{}
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	page.Items = items
	return page, nil
}

// SaveCategory upserts a category under last-writer-wins. Returns the
// stored version: an existing row advances to version+1, a new row keeps
// the pushed version.
func (s *Store) SaveCategory(ctx context.Context, c *model.Category) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, translate("save category", err)
	}
	defer tx.Rollback()

	var oldVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM categories WHERE id = ?`, c.ID).Scan(&oldVersion)

	version := c.Version
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO categories (id, owner_id, name, color, is_default,
				created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.OwnerID, c.Name, nullIfEmpty(c.Color), boolToInt(c.IsDefault),
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt), c.Version,
		)
		if err != nil {
			return 0, translate("save category", err)
		}
	case err != nil:
		return 0, translate("save category", err)
	default:
		version = oldVersion + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE categories SET name = ?, color = ?, is_default = ?,
				updated_at = ?, version = ?
			WHERE id = ?`,
			c.Name, nullIfEmpty(c.Color), boolToInt(c.IsDefault),
			formatTime(c.UpdatedAt), version, c.ID,
		)
		if err != nil {
			return 0, translate("save category", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, translate("save category", err)
	}
	return version, nil
}

// DeleteCategory removes a remote category. Missing rows are CodeNotFound.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := s.conn.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return translate("delete category", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errf(CodeNotFound, "delete category", "category %s not found", id)
	}
	return nil
}

// GetCategories lists the owner's remote categories.
func (s *Store) GetCategories(ctx context.Context, ownerID string) ([]*model.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner_id, name, color, is_default, created_at, updated_at, version
		FROM categories WHERE owner_id = ?
		ORDER BY is_default DESC, name ASC`, ownerID)
	if err != nil {
		return nil, translate("get categories", err)
	}
	defer rows.Close()

	var cats []*model.Category
	for rows.Next() {
		var c model.Category
		var color sql.NullString
		var isDefault int
		var createdAt, updatedAt string
		err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &color, &isDefault,
			&createdAt, &updatedAt, &c.Version)
		if err != nil {
			return nil, translate("get categories", err)
		}
		c.Color = color.String
		c.IsDefault = isDefault != 0
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		c.SyncStatus = model.StatusSynced
		cats = append(cats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("get categories", err)
	}
	return cats, nil
}

// adjustTotal applies a relative delta to the owner's counter, creating
// the row on first touch.
func adjustTotal(ctx context.Context, tx *sql.Tx, ownerID string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO owner_totals (owner_id, total_points, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			total_points = total_points + excluded.total_points,
			updated_at = excluded.updated_at`,
		ownerID, delta, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to adjust owner total: %w", err)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRemoteEntry(row scanner) (*model.RewardEntry, error) {
	var e model.RewardEntry
	var categoryID sql.NullString
	var earnedAt, createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.OwnerID, &e.Description, &e.Points, &categoryID,
		&earnedAt, &createdAt, &updatedAt, &e.Version)
	if err != nil {
		return nil, err
	}

	e.CategoryID = categoryID.String
	e.EarnedAt = parseTime(earnedAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.SyncStatus = model.StatusSynced
	return &e, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	return formatTime(createdAt) + "|" + id
}

func decodeCursor(cursor string) (createdAt, id string, err error) {
	i := strings.LastIndex(cursor, "|")
	if i < 0 {
		return "", "", fmt.Errorf("malformed cursor %q", cursor)
	}
	createdAt, id = cursor[:i], cursor[i+1:]
	if _, perr := time.Parse(time.RFC3339Nano, createdAt); perr != nil || id == "" {
		return "", "", fmt.Errorf("malformed cursor %q", cursor)
	}
	return createdAt, id, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
