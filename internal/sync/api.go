package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/queue"
)

// EnqueueMutation records a mutation locally and queues it for the remote
// store, committing both in one cache transaction. It returns only local
// failures (validation, storage); remote problems surface later through
// FailedOps and the event sink, never here.
//
// The entity is marked dirty before it is persisted. A successful call
// nudges the drain loop, so online devices converge quickly without
// waiting for the periodic timer.
func (o *Orchestrator) EnqueueMutation(ctx context.Context, operation queue.Operation, p model.Payload) error {
	if _, err := queue.ParseOperation(string(operation)); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	now := o.clock.Now()

	var err error
	if operation == queue.OpDelete {
		op := queue.NewOp(operation, p.Type, p.EntityID(), nil, now)
		switch p.Type {
		case model.TypeEntry:
			err = o.store.DeleteEntryAndEnqueue(ctx, p.EntityID(), op)
		default:
			err = o.store.DeleteCategoryAndEnqueue(ctx, p.EntityID(), op)
		}
	} else {
		markDirty(p)
		var data []byte
		data, err = p.Marshal()
		if err != nil {
			return err
		}
		op := queue.NewOp(operation, p.Type, p.EntityID(), data, now)
		switch p.Type {
		case model.TypeEntry:
			err = o.store.SaveEntryAndEnqueue(ctx, p.Entry, op)
		default:
			err = o.store.SaveCategoryAndEnqueue(ctx, p.Category, op)
		}
	}
	if err != nil {
		return err
	}

	o.log.Debug("mutation enqueued",
		zap.String("operation", string(operation)),
		zap.String("entity_type", string(p.Type)),
		zap.String("entity_id", p.EntityID()))
	o.ForceSyncNow()
	return nil
}

// AddEntry records a new entry locally and queues its remote insert.
func (o *Orchestrator) AddEntry(ctx context.Context, e *model.RewardEntry) error {
	e.SetDefaults()
	return o.EnqueueMutation(ctx, queue.OpInsert, model.EntryPayload(e))
}

// UpdateEntry bumps the entry's version, saves it locally and queues the
// remote update.
func (o *Orchestrator) UpdateEntry(ctx context.Context, e *model.RewardEntry) error {
	e.Touch()
	return o.EnqueueMutation(ctx, queue.OpUpdate, model.EntryPayload(e))
}

// DeleteEntry tombstones the entry locally and queues the remote delete.
func (o *Orchestrator) DeleteEntry(ctx context.Context, e *model.RewardEntry) error {
	return o.EnqueueMutation(ctx, queue.OpDelete, model.EntryPayload(e))
}

// SaveCategory records a category locally and queues its remote upsert.
// isNew selects insert vs update queue semantics.
func (o *Orchestrator) SaveCategory(ctx context.Context, c *model.Category, isNew bool) error {
	operation := queue.OpUpdate
	if isNew {
		c.SetDefaults()
		operation = queue.OpInsert
	} else {
		c.Touch()
	}
	return o.EnqueueMutation(ctx, operation, model.CategoryPayload(c))
}

// DeleteCategory tombstones the category locally and queues the remote
// delete. Callers are expected to check IsCategoryInUse first.
func (o *Orchestrator) DeleteCategory(ctx context.Context, c *model.Category) error {
	return o.EnqueueMutation(ctx, queue.OpDelete, model.CategoryPayload(c))
}

// GetCachedTotalPoints returns the owner's points total from the local
// cache. Pending dirty mutations are included, so the user sees the
// effect of their own writes immediately, online or not.
func (o *Orchestrator) GetCachedTotalPoints(ctx context.Context, ownerID string) (int, error) {
	return o.store.GetTotalPoints(ctx, ownerID)
}

// GetCachedPage returns one filtered page of the owner's entries from the
// local cache.
func (o *Orchestrator) GetCachedPage(ctx context.Context, ownerID string, filter cache.EntryFilter) (*cache.EntryPage, error) {
	return o.store.GetEntries(ctx, ownerID, filter)
}

// WatchRemoteEntities subscribes to the owner's entries on the remote
// store and folds each snapshot into the local cache, so other devices'
// changes become visible locally. Entities with unsynced local edits are
// left alone; the queue will push the local version out instead.
func (o *Orchestrator) WatchRemoteEntities(ctx context.Context, ownerID string, interval time.Duration) EntryStream {
	stream := o.remote.StreamEntries(ctx, ownerID, interval)
	go o.foldRemoteSnapshots(ctx, stream)
	return stream
}

func (o *Orchestrator) foldRemoteSnapshots(ctx context.Context, stream EntryStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-stream.Errs():
			if ok {
				o.log.Warn("remote watch error", zap.Error(err))
			}
		case items, ok := <-stream.Updates():
			if !ok {
				return
			}
			for _, e := range items {
				local, err := o.store.GetEntry(ctx, e.ID)
				if err == nil && local.SyncStatus == model.StatusDirty {
					// Local wins until the queue drains.
					continue
				}
				if err := o.store.CacheEntry(ctx, e); err != nil {
					o.log.Warn("failed to cache remote entry",
						zap.String("entry_id", e.ID), zap.Error(err))
				}
			}
		}
	}
}

// FailedOps returns permanently failed operations for surfacing to the
// user. The queue never resurrects these; re-submitting the mutation is
// the only way forward.
func (o *Orchestrator) FailedOps(ctx context.Context) ([]*queue.Op, error) {
	return o.store.FailedSyncOperations(ctx)
}

// QueueCounts reports how many operations sit in each queue state.
func (o *Orchestrator) QueueCounts(ctx context.Context) (map[queue.Status]int, error) {
	return o.store.SyncQueueCounts(ctx)
}

// ResyncAll pushes every live cached entry of the owner to the remote
// store in batches and marks them synced. Used to recover after the
// remote store was restored or the queue was damaged.
func (o *Orchestrator) ResyncAll(ctx context.Context, ownerID string) error {
	var all []*model.RewardEntry
	for page := 1; ; page++ {
		p, err := o.store.GetEntries(ctx, ownerID, cache.EntryFilter{Page: page, PageSize: 200})
		if err != nil {
			return err
		}
		all = append(all, p.Items...)
		if !p.HasNextPage {
			break
		}
	}
	if len(all) == 0 {
		return nil
	}

	committed, err := o.remote.BatchUpdate(ctx, all)
	if err != nil {
		return err
	}

	// Adopt the versions the remote assigned, so later edits bump from
	// the committed version rather than a stale local one.
	for _, e := range committed {
		if err := o.store.MarkEntrySynced(ctx, e.ID, e.Version); err != nil {
			return err
		}
	}
	o.log.Info("resync complete",
		zap.String("owner_id", ownerID),
		zap.Int("entries", len(committed)))
	return nil
}

// RemoteTotalPoints reads the authoritative points total, bypassing the
// cache. Used by status displays when online.
func (o *Orchestrator) RemoteTotalPoints(ctx context.Context, ownerID string) (int, error) {
	return o.remote.GetTotalPoints(ctx, ownerID)
}

func markDirty(p model.Payload) {
	switch p.Type {
	case model.TypeEntry:
		p.Entry.SyncStatus = model.StatusDirty
	case model.TypeCategory:
		p.Category.SyncStatus = model.StatusDirty
	}
}
