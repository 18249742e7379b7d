// Package sync reconciles the local cache with the shared remote store.
//
// All user writes land in the local cache and the durable sync queue first;
// this package drains that queue toward the remote store whenever a drain
// trigger fires. The drain is resilient: a transient remote failure
// reschedules the operation with exponential backoff, a fatal failure
// parks it for inspection, and neither is ever surfaced as an error to
// the code that performed the original mutation.
package sync

import (
	"context"
	"time"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/remote"
)

// RemoteStore is the authoritative store the orchestrator pushes queued
// mutations to and reads family-wide state from.
//
// Implementations must keep entity writes and the owner's points counter
// consistent: an entry insert, update or delete also adjusts the counter,
// atomically with the entity change. Every returned error must carry a
// remote error code (see remote.CodeOf) so the drain loop can separate
// transient failures from fatal ones.
type RemoteStore interface {
	// AddEntry creates the entry remotely and increments the owner's
	// points counter. Returns the stored version. A replay of an insert
	// that already landed fails with remote.CodeAlreadyExists; the drain
	// loop treats that as success.
	AddEntry(ctx context.Context, e *model.RewardEntry) (int64, error)

	// UpdateEntry overwrites the remote entry under last-writer-wins and
	// applies the points delta to the counter. Returns the new version.
	// remote.CodeNotFound when the entry was deleted remotely.
	UpdateEntry(ctx context.Context, e *model.RewardEntry) (int64, error)

	// DeleteEntry removes the entry and decrements the counter.
	// remote.CodeNotFound when already gone; the drain loop treats that
	// as success, since the intended end state holds.
	DeleteEntry(ctx context.Context, id string) error

	// BatchUpdate upserts many entries, used by full resync. Returns the
	// entries as committed, with the versions the store assigned.
	BatchUpdate(ctx context.Context, entries []*model.RewardEntry) ([]*model.RewardEntry, error)

	// GetTotalPoints returns the owner's authoritative points total.
	GetTotalPoints(ctx context.Context, ownerID string) (int, error)

	// SaveCategory upserts a category, returning the stored version.
	SaveCategory(ctx context.Context, c *model.Category) (int64, error)

	// DeleteCategory removes a category. remote.CodeNotFound when gone.
	DeleteCategory(ctx context.Context, id string) error

	// StreamEntries subscribes to the owner's remote entries. The caller
	// must Stop the stream or cancel ctx.
	StreamEntries(ctx context.Context, ownerID string, interval time.Duration) EntryStream
}

// EntryStream is a live subscription to one owner's remote entries.
type EntryStream interface {
	// Updates delivers entry snapshots, closed when the stream ends.
	Updates() <-chan []*model.RewardEntry
	// Errs delivers transient poll failures; the stream keeps running.
	Errs() <-chan error
	// Stop ends the subscription.
	Stop()
}

// ConnectivitySource reports whether the remote store is reachable.
//
// The orchestrator treats it as advisory: with no source at all the
// periodic drain timer still runs and failures back off normally. When a
// source is present, drains are skipped while offline and an
// offline-to-online edge triggers an immediate drain.
type ConnectivitySource interface {
	// IsOnline reports the current belief about reachability.
	IsOnline() bool

	// Subscribe returns a channel of state edges: true when connectivity
	// returns, false when it is lost. The channel closes when ctx ends.
	Subscribe(ctx context.Context) <-chan bool
}

// Remote adapts *remote.Store to the RemoteStore interface. The only
// indirection needed is the stream type.
type Remote struct {
	*remote.Store
}

// StreamEntries implements RemoteStore.
func (r Remote) StreamEntries(ctx context.Context, ownerID string, interval time.Duration) EntryStream {
	return r.Store.StreamEntries(ctx, ownerID, interval)
}
