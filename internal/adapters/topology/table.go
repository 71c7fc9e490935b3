package topology

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/jonboulle/clockwork"
	"golang.org/x/xerrors"

	"ospoolreport/internal/adapters/snapshot"
	"ospoolreport/internal/metrics"
)

// ErrNoData is returned when a table is empty and neither the source nor a
// snapshot could fill it.
var ErrNoData = xerrors.New("reference table empty and source unreachable")

// Refresh outcomes reported to metrics.
const (
	outcomeFresh    = "fresh"
	outcomeSnapshot = "snapshot"
	outcomeFetched  = "fetched"
	outcomeStale    = "stale"
	outcomeFailed   = "failed"
)

// LoadFunc fetches and parses a complete table.
type LoadFunc[T any] func(ctx context.Context) (map[string]T, error)

type snapshotRecord[T any] struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Entries   map[string]T `json:"entries"`
}

// Table is a read-mostly keyed cache gated by a TTL. Refreshes replace the
// whole map; readers never see a partial table.
type Table[T any] struct {
	name  string
	ttl   time.Duration
	load  LoadFunc[T]
	clock clockwork.Clock
	snaps *snapshot.Store
	log   slog.Logger
	met   *metrics.Metrics

	refreshMu sync.Mutex
	mu        sync.RWMutex
	entries   map[string]T
	fetchedAt time.Time
}

type TableOptions struct {
	Clock     clockwork.Clock
	Snapshots *snapshot.Store
	Metrics   *metrics.Metrics
}

func NewTable[T any](name string, ttl time.Duration, load LoadFunc[T], opts TableOptions, log slog.Logger) *Table[T] {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Table[T]{
		name:    name,
		ttl:     ttl,
		load:    load,
		clock:   clock,
		snaps:   opts.Snapshots,
		log:     log.Named(name),
		met:     opts.Metrics,
		entries: map[string]T{},
	}
}

func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[key]
	return v, ok
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table[T]) fresh() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) > 0 && t.clock.Since(t.fetchedAt) < t.ttl
}

func (t *Table[T]) swap(entries map[string]T, at time.Time) {
	t.mu.Lock()
	t.entries = entries
	t.fetchedAt = at
	t.mu.Unlock()
}

// RefreshIfStale reloads the table when it is empty or older than its TTL.
// An empty table first tries the on-disk snapshot. When the source fails the
// current contents, or failing that the snapshot, are kept; only an empty
// table with no fallback is an error.
func (t *Table[T]) RefreshIfStale(ctx context.Context) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	if t.fresh() {
		t.met.ObserveRefresh(t.name, outcomeFresh, t.Len())
		return nil
	}

	var snap snapshotRecord[T]
	haveSnap := false
	if t.Len() == 0 && t.snaps != nil {
		err := t.snaps.Load(t.name, &snap)
		switch {
		case err == nil && len(snap.Entries) > 0:
			haveSnap = true
			if t.clock.Since(snap.FetchedAt) < t.ttl {
				t.swap(snap.Entries, snap.FetchedAt)
				t.log.Debug(ctx, "loaded reference snapshot", slog.F("entries", len(snap.Entries)))
				t.met.ObserveRefresh(t.name, outcomeSnapshot, len(snap.Entries))
				return nil
			}
		case err != nil && !xerrors.Is(err, snapshot.ErrMissing):
			t.log.Warn(ctx, "unreadable reference snapshot", slog.Error(err))
		}
	}

	entries, err := t.load(ctx)
	if err == nil && len(entries) == 0 {
		err = xerrors.New("source returned no entries")
	}
	if err != nil {
		switch {
		case t.Len() > 0:
			t.log.Warn(ctx, "reference refresh failed, keeping cached table",
				slog.F("entries", t.Len()), slog.Error(err))
			t.met.ObserveRefresh(t.name, outcomeStale, t.Len())
			return nil
		case haveSnap:
			t.swap(snap.Entries, snap.FetchedAt)
			t.log.Warn(ctx, "reference refresh failed, using stale snapshot",
				slog.F("entries", len(snap.Entries)),
				slog.F("fetched_at", snap.FetchedAt),
				slog.Error(err))
			t.met.ObserveRefresh(t.name, outcomeSnapshot, len(snap.Entries))
			return nil
		}
		t.met.ObserveRefresh(t.name, outcomeFailed, 0)
		return xerrors.Errorf("%s: %v: %w", t.name, err, ErrNoData)
	}

	now := t.clock.Now()
	t.swap(entries, now)
	t.log.Info(ctx, "reference table refreshed", slog.F("entries", len(entries)))
	t.met.ObserveRefresh(t.name, outcomeFetched, len(entries))

	if t.snaps != nil {
		if err := t.snaps.Save(t.name, snapshotRecord[T]{FetchedAt: now, Entries: entries}); err != nil {
			t.log.Warn(ctx, "save reference snapshot", slog.Error(err))
		}
	}
	return nil
}
