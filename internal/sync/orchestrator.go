package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/queue"
	"github.com/chorequest/chorequest/internal/remote"
)

// Defaults for orchestrator tuning knobs.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultBatchSize   = 50
	DefaultWorkerLimit = 4
)

// Options configures an Orchestrator. The zero value is usable: system
// clock, default backoff, no connectivity source, nop logger.
type Options struct {
	// Interval between periodic drain passes.
	Interval time.Duration
	// BatchSize caps ready operations fetched per drain pass.
	BatchSize int
	// WorkerLimit caps entity groups drained concurrently.
	WorkerLimit int

	// Connectivity gates drains and triggers one on the offline-to-online
	// edge. Optional; without it the periodic timer alone drives drains.
	Connectivity ConnectivitySource
	// Clock abstracts time for tests.
	Clock queue.Clock
	// Backoff overrides the retry policy.
	Backoff *queue.BackoffPolicy
	// Logger for structured drain logging. Nil means no logging.
	Logger *zap.Logger
	// OnEvent receives sync lifecycle events. Optional.
	OnEvent EventSink
}

// Orchestrator drains the durable sync queue toward the remote store.
//
// At most one drain pass runs at a time; triggers arriving mid-drain are
// no-ops. Operations touching the same entity are applied strictly in
// enqueue order, while distinct entities drain concurrently under a
// worker limit.
type Orchestrator struct {
	store   *cache.Store
	remote  RemoteStore
	conn    ConnectivitySource
	clock   queue.Clock
	backoff *queue.BackoffPolicy
	log     *zap.Logger
	onEvent EventSink

	interval    time.Duration
	batchSize   int
	workerLimit int

	draining atomic.Bool
	trigger  chan struct{}
}

// New creates an orchestrator over the given cache and remote stores.
func New(store *cache.Store, rs RemoteStore, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = queue.SystemClock{}
	}
	if opts.Backoff == nil {
		opts.Backoff = queue.NewBackoffPolicy(opts.Clock)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = DefaultWorkerLimit
	}

	return &Orchestrator{
		store:       store,
		remote:      rs,
		conn:        opts.Connectivity,
		clock:       opts.Clock,
		backoff:     opts.Backoff,
		log:         opts.Logger,
		onEvent:     opts.OnEvent,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		workerLimit: opts.WorkerLimit,
		trigger:     make(chan struct{}, 1),
	}
}

// Run drives periodic and event-triggered drains until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	var edges <-chan bool
	if o.conn != nil {
		edges = o.conn.Subscribe(ctx)
	}

	o.log.Info("sync orchestrator started",
		zap.Duration("interval", o.interval),
		zap.Int("batch_size", o.batchSize),
		zap.Int("worker_limit", o.workerLimit))

	// Initial pass picks up anything queued while the process was down.
	o.drain(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("sync orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			o.drain(ctx)
		case online, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			if online {
				o.log.Info("connectivity restored, draining queue")
				o.drain(ctx)
			}
		case <-o.trigger:
			o.drain(ctx)
		}
	}
}

// ForceSyncNow requests an immediate drain pass. Non-blocking; if a drain
// is already running or pending the request coalesces into it.
func (o *Orchestrator) ForceSyncNow() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Completed int
	Retried   int
	Failed    int
}

// SyncNow runs one drain pass synchronously and reports what happened.
// Used by the CLI; the background loop calls the same drain.
func (o *Orchestrator) SyncNow(ctx context.Context) (DrainStats, error) {
	return o.drain(ctx)
}

// drain runs one pass over the ready queue. Re-entrant calls are no-ops.
func (o *Orchestrator) drain(ctx context.Context) (DrainStats, error) {
	if !o.draining.CompareAndSwap(false, true) {
		return DrainStats{}, nil
	}
	defer o.draining.Store(false)

	if o.conn != nil && !o.conn.IsOnline() {
		o.log.Debug("drain skipped, offline")
		return DrainStats{}, nil
	}

	// Requeue operations stranded in Processing by a crash or a cancelled
	// drain. Single-flight per device means no other worker can hold a
	// legitimate claim while this pass runs.
	if n, err := o.store.ResetProcessingOperations(ctx); err != nil {
		o.log.Error("failed to requeue interrupted operations", zap.Error(err))
		return DrainStats{}, err
	} else if n > 0 {
		o.log.Info("requeued interrupted operations", zap.Int("count", n))
	}

	ops, err := o.store.ReadySyncOperations(ctx, o.clock.Now(), o.batchSize)
	if err != nil {
		o.log.Error("failed to load ready operations", zap.Error(err))
		return DrainStats{}, err
	}
	if len(ops) == 0 {
		return DrainStats{}, nil
	}

	groups := groupByEntity(ops)

	var completed, retried, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workerLimit)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			c, r, f := o.drainGroup(gctx, group)
			completed.Add(int64(c))
			retried.Add(int64(r))
			failed.Add(int64(f))
			return nil
		})
	}
	// Workers never return errors; failures are recorded per operation.
	_ = g.Wait()

	stats := DrainStats{
		Completed: int(completed.Load()),
		Retried:   int(retried.Load()),
		Failed:    int(failed.Load()),
	}
	o.log.Info("drain complete",
		zap.Int("completed", stats.Completed),
		zap.Int("retried", stats.Retried),
		zap.Int("failed", stats.Failed))
	o.emit(Event{
		Type:      EventDrainComplete,
		Time:      o.clock.Now(),
		Completed: stats.Completed,
		Retried:   stats.Retried,
		Failed:    stats.Failed,
	})
	return stats, nil
}

// drainGroup applies one entity's operations in enqueue order. The group
// stops at the first failure so a later operation can never overtake an
// earlier one for the same entity.
func (o *Orchestrator) drainGroup(ctx context.Context, group []*queue.Op) (completed, retried, failed int) {
	// Settling a claimed operation must survive the drain being cancelled:
	// a row left in Processing would never be selected again.
	settleCtx := context.WithoutCancel(ctx)

	for _, op := range group {
		if ctx.Err() != nil {
			return
		}

		if err := o.store.MarkSyncOperationProcessing(ctx, op.ID); err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				// Withdrawn or claimed by another pass; skip.
				continue
			}
			// A store failure must not let a later operation overtake
			// this one for the same entity.
			o.log.Error("failed to claim operation",
				zap.String("op_id", op.ID), zap.Error(err))
			return
		}

		if err := o.applyOp(ctx, op); err != nil {
			if remote.IsRetryable(err) {
				terminal := o.backoff.RecordFailure(op, err)
				if uerr := o.store.UpdateSyncOperation(settleCtx, op); uerr != nil {
					o.log.Error("failed to persist retry state",
						zap.String("op_id", op.ID), zap.Error(uerr))
				}
				if terminal {
					failed++
					o.log.Warn("operation failed permanently, retries exhausted",
						zap.String("op_id", op.ID),
						zap.String("entity_id", op.EntityID),
						zap.Error(err))
					o.emit(Event{Type: EventOpFailed, Time: o.clock.Now(), Op: op, Err: err})
				} else {
					retried++
					o.log.Debug("operation rescheduled",
						zap.String("op_id", op.ID),
						zap.Int("retry_count", op.RetryCount),
						zap.Time("scheduled_at", op.ScheduledAt),
						zap.Error(err))
					o.emit(Event{Type: EventOpRetried, Time: o.clock.Now(), Op: op, Err: err})
				}
			} else {
				o.backoff.RecordFatal(op, err)
				if uerr := o.store.UpdateSyncOperation(settleCtx, op); uerr != nil {
					o.log.Error("failed to persist failed state",
						zap.String("op_id", op.ID), zap.Error(uerr))
				}
				failed++
				o.log.Warn("operation failed permanently",
					zap.String("op_id", op.ID),
					zap.String("entity_id", op.EntityID),
					zap.String("code", string(remote.CodeOf(err))),
					zap.Error(err))
				o.emit(Event{Type: EventOpFailed, Time: o.clock.Now(), Op: op, Err: err})
			}
			return
		}

		completed++
		o.emit(Event{Type: EventOpCompleted, Time: o.clock.Now(), Op: op})
	}
	return
}

// applyOp pushes one operation to the remote store and settles the local
// cache on success. Returns nil when the intended remote end state holds,
// even if this attempt didn't perform the write (replayed insert, delete
// of an already-deleted row).
func (o *Orchestrator) applyOp(ctx context.Context, op *queue.Op) error {
	switch op.EntityType {
	case model.TypeEntry:
		return o.applyEntryOp(ctx, op)
	case model.TypeCategory:
		return o.applyCategoryOp(ctx, op)
	default:
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
}

func (o *Orchestrator) applyEntryOp(ctx context.Context, op *queue.Op) error {
	// Once the remote write landed, settling must not be lost to a
	// cancelled drain. The entity is settled before the queue row is
	// removed: an interruption in between is replayed on the next drain,
	// which is idempotent, whereas the reverse order could leave a dirty
	// row no queue entry covers.
	settleCtx := context.WithoutCancel(ctx)

	if op.Operation == queue.OpDelete {
		err := o.remote.DeleteEntry(ctx, op.EntityID)
		if err != nil && remote.CodeOf(err) != remote.CodeNotFound {
			return err
		}
		if err := o.store.PurgeEntry(settleCtx, op.EntityID); err != nil {
			return err
		}
		return o.store.CompleteSyncOperation(settleCtx, op.ID)
	}

	p, err := model.UnmarshalPayload(op.EntityType, op.Payload)
	if err != nil {
		// Corrupt payload cannot succeed on any attempt.
		return &remote.Error{Code: remote.CodeInvalidArgument, Op: "apply entry", Err: err}
	}
	e := p.Entry

	var version int64
	switch op.Operation {
	case queue.OpInsert:
		version, err = o.remote.AddEntry(ctx, e)
		if err != nil && remote.CodeOf(err) == remote.CodeAlreadyExists {
			// A previous attempt landed before its response was observed.
			version, err = e.Version, nil
		}
	case queue.OpUpdate:
		version, err = o.remote.UpdateEntry(ctx, e)
	case queue.OpResync:
		version, err = o.remote.UpdateEntry(ctx, e)
		if err != nil && remote.CodeOf(err) == remote.CodeNotFound {
			version, err = o.remote.AddEntry(ctx, e)
		}
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
	if err != nil {
		return err
	}

	if err := o.store.MarkEntrySynced(settleCtx, op.EntityID, version); err != nil {
		return err
	}
	return o.store.CompleteSyncOperation(settleCtx, op.ID)
}

func (o *Orchestrator) applyCategoryOp(ctx context.Context, op *queue.Op) error {
	settleCtx := context.WithoutCancel(ctx)

	if op.Operation == queue.OpDelete {
		err := o.remote.DeleteCategory(ctx, op.EntityID)
		if err != nil && remote.CodeOf(err) != remote.CodeNotFound {
			return err
		}
		if err := o.store.PurgeCategory(settleCtx, op.EntityID); err != nil {
			return err
		}
		return o.store.CompleteSyncOperation(settleCtx, op.ID)
	}

	p, err := model.UnmarshalPayload(op.EntityType, op.Payload)
	if err != nil {
		return &remote.Error{Code: remote.CodeInvalidArgument, Op: "apply category", Err: err}
	}

	version, err := o.remote.SaveCategory(ctx, p.Category)
	if err != nil {
		return err
	}

	if err := o.store.MarkCategorySynced(settleCtx, op.EntityID, version); err != nil {
		return err
	}
	return o.store.CompleteSyncOperation(settleCtx, op.ID)
}

func (o *Orchestrator) emit(ev Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}

// groupByEntity splits ready operations into per-entity groups, each
// sorted oldest first. Group order follows the first appearance in the
// ready set, which is already priority ordered.
func groupByEntity(ops []*queue.Op) [][]*queue.Op {
	index := make(map[string]int)
	var groups [][]*queue.Op
	for _, op := range ops {
		key := string(op.EntityType) + "/" + op.EntityID
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].CreatedAt.Before(g[j].CreatedAt)
		})
	}
	return groups
}
