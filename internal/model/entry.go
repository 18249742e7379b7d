// Package model provides the syncable domain records for ChoreQuest.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a record's local state matches the last known
// remote state.
type SyncStatus string

const (
	// StatusSynced means the record is confirmed committed to the remote store.
	StatusSynced SyncStatus = "synced"

	// StatusDirty means local state has diverged from the last known remote
	// state and a sync queue operation is (or should be) pending for it.
	StatusDirty SyncStatus = "dirty"
)

// RewardEntry is a single reward/point transaction recorded for a family
// member. Entries are created locally first and reconciled with the shared
// remote store by the sync engine.
//
// Version is the optimistic-concurrency token: it starts at 0 and is
// incremented by exactly 1 on every successful local or remote update.
type RewardEntry struct {
	// ===== Core Identification =====
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// ===== Entry Content =====
	Description string `json:"description"`
	Points      int    `json:"points"`
	CategoryID  string `json:"category_id,omitempty"`

	// ===== Timestamps =====
	EarnedAt  time.Time `json:"earned_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ===== Sync Bookkeeping =====
	Version    int64      `json:"version"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// Validate checks if the RewardEntry has valid field values.
func (e *RewardEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if e.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(e.Description) > 500 {
		return fmt.Errorf("description must be 500 characters or less (got %d)", len(e.Description))
	}
	if e.Version < 0 {
		return fmt.Errorf("version must not be negative (got %d)", e.Version)
	}
	switch e.SyncStatus {
	case StatusSynced, StatusDirty:
	default:
		return fmt.Errorf("invalid sync status %q", e.SyncStatus)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
// This ensures consistent behavior when fields are omitted.
func (e *RewardEntry) SetDefaults() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SyncStatus == "" {
		e.SyncStatus = StatusDirty
	}
	if e.EarnedAt.IsZero() {
		e.EarnedAt = time.Now()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
}

// Touch bumps the version and marks the entry dirty.
// This should be called whenever the user modifies any field.
func (e *RewardEntry) Touch() {
	e.Version++
	e.SyncStatus = StatusDirty
	e.UpdatedAt = time.Now()
}
