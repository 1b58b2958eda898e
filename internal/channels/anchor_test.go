// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, Rebase, ParseStrategy(" Rebase "))
	assert.Equal(t, Preserve, ParseStrategy("preserve"))
	assert.Equal(t, Preserve, ParseStrategy("drift"))
}

func TestReanchor_PreserveKeepsAnchor(t *testing.T) {
	prev := abc(t)
	next, err := Build(prev.Meta, []Entry{movie(4, 10), movie(1, 30)}, time.Time{}, 2)
	require.NoError(t, err)

	got := Preserve.Reanchor(prev, next, anchor.Add(40*time.Second))
	assert.Equal(t, anchor, got)
}

func TestReanchor_RebaseContinuesCurrentItem(t *testing.T) {
	prev := abc(t)
	at := anchor.Add(2*time.Hour + 40*time.Second) // B, 10s in

	next, err := Build(prev.Meta, []Entry{movie(4, 15), movie(3, 10), movie(2, 20)}, time.Time{}, 2)
	require.NoError(t, err)
	next = next.withAnchor(Rebase.Reanchor(prev, next, at))

	ph := NowPlaying(next, at, 1)
	require.NotNil(t, ph.NowPlaying)
	assert.Equal(t, int64(2), ph.NowPlaying.MediaID)
	assert.Equal(t, 10*time.Second, ph.Elapsed)
}

func TestReanchor_RebaseRemovedItemStartsAtEdit(t *testing.T) {
	prev := abc(t)
	at := anchor.Add(40 * time.Second)

	next, err := Build(prev.Meta, []Entry{movie(4, 15), movie(3, 10)}, time.Time{}, 2)
	require.NoError(t, err)
	got := Rebase.Reanchor(prev, next, at)
	assert.Equal(t, at, got)

	ph := NowPlaying(next.withAnchor(got), at, 0)
	assert.Equal(t, int64(4), ph.NowPlaying.MediaID)
	assert.Zero(t, ph.Elapsed)
}

func TestReanchor_RebaseMatchesKindAndID(t *testing.T) {
	prev := abc(t)
	at := anchor.Add(5 * time.Second) // movie 1

	// episode 1 is a different media than movie 1
	next, err := Build(prev.Meta, []Entry{episode(1, 30), movie(2, 20)}, time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, at, Rebase.Reanchor(prev, next, at))
}

func TestReanchor_RebaseShortenedItemRestarts(t *testing.T) {
	prev := abc(t)
	at := anchor.Add(25 * time.Second) // movie 1, 25s in

	next, err := Build(prev.Meta, []Entry{movie(2, 20), movie(1, 10)}, time.Time{}, 2)
	require.NoError(t, err)
	ph := NowPlaying(next.withAnchor(Rebase.Reanchor(prev, next, at)), at, 0)
	assert.Equal(t, int64(1), ph.NowPlaying.MediaID)
	assert.Zero(t, ph.Elapsed)
}

func TestReanchor_NoPrevious(t *testing.T) {
	next := abc(t)
	at := anchor.Add(time.Hour)
	assert.Equal(t, at, Preserve.Reanchor(nil, next, at))
	assert.Equal(t, at, Rebase.Reanchor(nil, next, at))
}
