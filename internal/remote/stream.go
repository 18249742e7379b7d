package remote

import (
	"context"
	"errors"
	"time"

	"github.com/chorequest/chorequest/internal/model"
)

// DefaultPollInterval is how often a stream checks the remote store for
// changes when the caller doesn't specify an interval.
const DefaultPollInterval = 30 * time.Second

// Stream is a restartable subscription to one owner's remote entries.
// libSQL has no push channel, so the stream polls a cheap change watermark
// (row count + newest updated_at) and fetches the full list only when the
// watermark moves.
type Stream struct {
	updates chan []*model.RewardEntry
	errs    chan error
	cancel  context.CancelFunc
	done    chan struct{}
}

// StreamEntries starts watching the owner's entries. The first snapshot is
// emitted as soon as the initial fetch completes, then again after every
// observed change. The stream stops when ctx is cancelled or Stop is
// called; Updates is closed afterwards.
func (s *Store) StreamEntries(ctx context.Context, ownerID string, interval time.Duration) *Stream {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		updates: make(chan []*model.RewardEntry, 1),
		errs:    make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.pollLoop(ctx, ownerID, interval, st)
	return st
}

// Updates delivers entry snapshots, newest first within each snapshot.
func (st *Stream) Updates() <-chan []*model.RewardEntry { return st.updates }

// Errs delivers transient poll failures. The stream keeps polling after an
// error; a stale snapshot is better than a dead subscription.
func (st *Stream) Errs() <-chan error { return st.errs }

// Stop ends the subscription and waits for the poll loop to exit.
func (st *Stream) Stop() {
	st.cancel()
	<-st.done
}

func (s *Store) pollLoop(ctx context.Context, ownerID string, interval time.Duration, st *Stream) {
	defer close(st.done)
	defer close(st.updates)

	var lastCount int
	var lastUpdated string
	first := true

	emit := func() {
		count, updated, err := s.changeWatermark(ctx, ownerID)
		if err != nil {
			st.reportErr(err)
			return
		}
		if !first && count == lastCount && updated == lastUpdated {
			return
		}

		items, err := s.listOwnerEntries(ctx, ownerID)
		if err != nil {
			st.reportErr(err)
			return
		}

		select {
		case st.updates <- items:
		case <-ctx.Done():
			return
		}
		lastCount, lastUpdated, first = count, updated, false
	}

	emit()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}

func (st *Stream) reportErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	select {
	case st.errs <- err:
	default:
		// Caller isn't draining errors; drop rather than block the poll.
	}
}

func (s *Store) changeWatermark(ctx context.Context, ownerID string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var count int
	var updated string
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), '')
		FROM entries WHERE owner_id = ?`, ownerID).
		Scan(&count, &updated)
	if err != nil {
		return 0, "", translate("stream entries", err)
	}
	return count, updated, nil
}

func (s *Store) listOwnerEntries(ctx context.Context, ownerID string) ([]*model.RewardEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner_id, description, points, category_id,
			earned_at, created_at, updated_at, version
		FROM entries WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, translate("stream entries", err)
	}
	defer rows.Close()

	var items []*model.RewardEntry
	for rows.Next() {
		e, err := scanRemoteEntry(rows)
		if err != nil {
			return nil, translate("stream entries", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("stream entries", err)
	}
	return items, nil
}
