package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chorequest/chorequest/internal/model"
)

const categoryColumns = `id, owner_id, name, color, is_default,
       created_at, updated_at, version, sync_status`

// CacheCategory inserts or replaces a category by primary key. Idempotent.
func (s *Store) CacheCategory(ctx context.Context, c *model.Category) error {
	if err := c.Validate(); err != nil {
		return storeErr("cache category", fmt.Errorf("invalid category: %w", err))
	}

	query := `
	INSERT INTO categories (
		id, owner_id, name, color, is_default,
		created_at, updated_at, version, sync_status, deleted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		color = excluded.color,
		is_default = excluded.is_default,
		updated_at = excluded.updated_at,
		version = excluded.version,
		sync_status = excluded.sync_status,
		deleted_at = NULL
	`

	_, err := s.conn.ExecContext(ctx, query,
		c.ID,
		c.OwnerID,
		c.Name,
		nullIfEmpty(c.Color),
		boolToInt(c.IsDefault),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		c.Version,
		string(c.SyncStatus),
	)
	if err != nil {
		return storeErr("cache category", err)
	}

	return nil
}

// GetCategory retrieves a single live category by ID.
// Returns ErrNotFound for missing or tombstoned rows.
func (s *Store) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE id = ? AND deleted_at IS NULL`

	row := s.conn.QueryRowContext(ctx, query, id)
	c, err := scanCategoryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get category", err)
	}
	return c, nil
}

// GetCategories lists all live categories for an owner, defaults first,
// then by name.
func (s *Store) GetCategories(ctx context.Context, ownerID string) ([]*model.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories
	WHERE owner_id = ? AND deleted_at IS NULL
	ORDER BY is_default DESC, name ASC`

	rows, err := s.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, storeErr("get categories", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storeErr("get categories", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get categories", err)
	}

	return categories, nil
}

// DeleteCategory tombstones a category. Callers must check
// IsCategoryInUse first; the store enforces nothing beyond storage.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	query := `UPDATE categories SET deleted_at = updated_at, sync_status = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := s.conn.ExecContext(ctx, query, string(model.StatusDirty), id)
	if err != nil {
		return storeErr("delete category", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeCategory physically removes a category row after the remote delete
// is confirmed. Idempotent.
func (s *Store) PurgeCategory(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return storeErr("purge category", err)
	}
	return nil
}

// MarkCategorySynced flips a category to synced with the confirmed version.
func (s *Store) MarkCategorySynced(ctx context.Context, id string, version int64) error {
	query := `UPDATE categories SET sync_status = ?, version = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, string(model.StatusSynced), version, id); err != nil {
		return storeErr("mark category synced", err)
	}
	return nil
}

// IsCategoryInUse reports whether any live entry still references the
// category. Used before allowing deletion of a shared reference.
func (s *Store) IsCategoryInUse(ctx context.Context, id string) (bool, error) {
	var exists int
	query := `SELECT EXISTS(
		SELECT 1 FROM entries WHERE category_id = ? AND deleted_at IS NULL
	)`
	if err := s.conn.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, storeErr("is category in use", err)
	}
	return exists == 1, nil
}

// ClearNonDefaultCategories removes an owner's custom categories, keeping
// system defaults. Used on reset.
func (s *Store) ClearNonDefaultCategories(ctx context.Context, ownerID string) error {
	query := `DELETE FROM categories WHERE owner_id = ? AND is_default = 0`
	if _, err := s.conn.ExecContext(ctx, query, ownerID); err != nil {
		return storeErr("clear non-default categories", err)
	}
	return nil
}

func scanCategoryRow(row *sql.Row) (*model.Category, error) {
	var c model.Category
	var color sql.NullString
	var isDefault int
	var createdAt, updatedAt, syncStatus string

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&color,
		&isDefault,
		&createdAt,
		&updatedAt,
		&c.Version,
		&syncStatus,
	)
	if err != nil {
		return nil, err
	}

	c.Color = color.String
	c.IsDefault = isDefault == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.SyncStatus = model.SyncStatus(syncStatus)
	return &c, nil
}

func scanCategory(rows *sql.Rows) (*model.Category, error) {
	var c model.Category
	var color sql.NullString
	var isDefault int
	var createdAt, updatedAt, syncStatus string

	err := rows.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&color,
		&isDefault,
		&createdAt,
		&updatedAt,
		&c.Version,
		&syncStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}

	c.Color = color.String
	c.IsDefault = isDefault == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.SyncStatus = model.SyncStatus(syncStatus)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
