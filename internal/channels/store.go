// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
)

// ErrVersionConflict is returned by ScheduleStore.Write when a newer version
// is already stored.
var ErrVersionConflict = errors.New("channel version conflict")

// Snapshot is the persisted form of a channel.
type Snapshot struct {
	Meta    Meta
	Entries []Entry
	Anchor  time.Time
	Version uint64
}

// ScheduleStore persists channels. Read returns ErrChannelNotFound for an
// unknown id. Write must store the snapshot as given, including Version.
type ScheduleStore interface {
	Read(ctx context.Context, channelID int64) (Snapshot, error)
	List(ctx context.Context, ownerID string) ([]Meta, error)
	Write(ctx context.Context, snap Snapshot) error
	Sources(ctx context.Context, channelID int64) ([]Source, error)
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Strategy Strategy
	// RefreshAfter bounds how long a cached snapshot is served before the
	// backend is consulted again. Zero caches until the next local edit.
	RefreshAfter time.Duration
}

type cached struct {
	ch      *Channel
	fetched time.Time
}

// Store is a read-mostly cache of channel snapshots. Readers load an
// immutable map through an atomic pointer and never block; writers copy the
// map under mu and swap it in.
type Store struct {
	backend      ScheduleStore
	refreshAfter time.Duration
	strategy     atomic.Value // Strategy
	logger       zerolog.Logger
	now          func() time.Time

	snaps atomic.Pointer[map[int64]cached]
	mu    sync.Mutex // guards map swaps
	edit  sync.Mutex // serializes Replace so versions stay monotonic
	loads singleflight.Group

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewStore returns an empty store backed by backend.
func NewStore(backend ScheduleStore, opts StoreOptions) *Store {
	s := &Store{
		backend:      backend,
		refreshAfter: opts.RefreshAfter,
		logger:       xglog.WithComponent("channels"),
		now:          time.Now,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6c6f6f70)),
	}
	empty := map[int64]cached{}
	s.snaps.Store(&empty)
	s.SetStrategy(opts.Strategy)
	return s
}

// SetStrategy switches the anchor strategy used by later edits.
func (s *Store) SetStrategy(st Strategy) {
	if st != Rebase {
		st = Preserve
	}
	s.strategy.Store(st)
}

// Strategy returns the current anchor strategy.
func (s *Store) Strategy() Strategy { return s.strategy.Load().(Strategy) }

// Len is the number of cached snapshots.
func (s *Store) Len() int { return len(*s.snaps.Load()) }

func (s *Store) lookup(id int64) (cached, bool) {
	c, ok := (*s.snaps.Load())[id]
	return c, ok
}

// install publishes ch unless a newer version is already cached.
func (s *Store) install(ch *Channel) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.snaps.Load()
	if c, ok := cur[ch.ID]; ok && c.ch.Version > ch.Version {
		return c.ch
	}
	next := make(map[int64]cached, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[ch.ID] = cached{ch: ch, fetched: s.now()}
	s.snaps.Store(&next)
	metrics.SetChannelSnapshots(len(next))
	return ch
}

// Invalidate drops a cached snapshot.
func (s *Store) Invalidate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.snaps.Load()
	if _, ok := cur[id]; !ok {
		return
	}
	next := make(map[int64]cached, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	s.snaps.Store(&next)
	metrics.SetChannelSnapshots(len(next))
}

// Get returns the current snapshot of a channel, reading through to the
// backend on a miss or when the cached copy is older than RefreshAfter. A
// backend failure during refresh serves the cached copy.
func (s *Store) Get(ctx context.Context, id int64) (*Channel, error) {
	c, ok := s.lookup(id)
	if ok && (s.refreshAfter <= 0 || s.now().Sub(c.fetched) < s.refreshAfter) {
		return c.ch, nil
	}

	v, err, _ := s.loads.Do(strconv.FormatInt(id, 10), func() (any, error) {
		snap, err := s.backend.Read(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		ch, err := Build(snap.Meta, snap.Entries, snap.Anchor, snap.Version)
		if err != nil {
			return nil, err
		}
		return s.install(ch), nil
	})
	if err != nil {
		if errors.Is(err, playback.ErrChannelNotFound) {
			s.Invalidate(id)
			return nil, err
		}
		if ok {
			s.logger.Warn().Err(err).Int64(xglog.FieldChannelID, id).Msg("schedule refresh failed, serving cached snapshot")
			return c.ch, nil
		}
		return nil, fmt.Errorf("load channel %d: %w", id, err)
	}
	return v.(*Channel), nil
}

// List returns the channels owned by ownerID.
func (s *Store) List(ctx context.Context, ownerID string) ([]Meta, error) {
	return s.backend.List(ctx, ownerID)
}

// Replace installs a new item list for channel id. The anchor follows the
// store's strategy, the version is bumped, and the result is persisted before
// it becomes visible.
func (s *Store) Replace(ctx context.Context, id int64, entries []Entry) (*Channel, error) {
	s.edit.Lock()
	defer s.edit.Unlock()

	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Build(prev.Meta, entries, prev.Anchor, prev.Version+1)
	if err != nil {
		return nil, err
	}
	at := s.now()
	strategy := s.Strategy()
	next = next.withAnchor(strategy.Reanchor(prev, next, at))

	if err := s.backend.Write(ctx, Snapshot{
		Meta:    next.Meta,
		Entries: entries,
		Anchor:  next.Anchor,
		Version: next.Version,
	}); err != nil {
		return nil, fmt.Errorf("persist channel %d: %w", id, err)
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "channel.updated").
		Int64(xglog.FieldChannelID, id).
		Uint64("version", next.Version).
		Str("strategy", string(strategy)).
		Int("items", len(entries)).
		Time("anchor", next.Anchor).
		Msg("channel schedule replaced")
	return s.install(next), nil
}

// Regenerate rebuilds the item list of channel id from its sources. A
// channel whose sources yield nothing keeps its current schedule.
func (s *Store) Regenerate(ctx context.Context, id int64) (*Channel, error) {
	sources, err := s.backend.Sources(ctx, id)
	if err != nil {
		return nil, err
	}
	s.rngMu.Lock()
	entries := Generate(sources, s.rng)
	s.rngMu.Unlock()
	if len(entries) == 0 {
		return s.Get(ctx, id)
	}
	return s.Replace(ctx, id, entries)
}
