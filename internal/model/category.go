package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups reward entries (chores, homework, kindness, ...).
// Categories are shared references: an entry points at a category by ID,
// so a category may only be deleted once no live entry references it.
type Category struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Name  string `json:"name"`
	Color string `json:"color,omitempty"`

	// IsDefault marks system-provided categories that bulk eviction
	// must never remove.
	IsDefault bool `json:"is_default,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Version    int64      `json:"version"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// Validate checks if the Category has valid field values.
func (c *Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Name) > 100 {
		return fmt.Errorf("name must be 100 characters or less (got %d)", len(c.Name))
	}
	if c.Version < 0 {
		return fmt.Errorf("version must not be negative (got %d)", c.Version)
	}
	switch c.SyncStatus {
	case StatusSynced, StatusDirty:
	default:
		return fmt.Errorf("invalid sync status %q", c.SyncStatus)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Category) SetDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SyncStatus == "" {
		c.SyncStatus = StatusDirty
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
}

// Touch bumps the version and marks the category dirty.
func (c *Category) Touch() {
	c.Version++
	c.SyncStatus = StatusDirty
	c.UpdatedAt = time.Now()
}
