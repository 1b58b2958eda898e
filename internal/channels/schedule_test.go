// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/playback"
)

var anchor = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func movie(id int64, secs int) Entry {
	return Entry{MediaID: id, MediaType: playback.KindMovie, Title: "m", Duration: time.Duration(secs) * time.Second}
}

func episode(id int64, secs int) Entry {
	return Entry{MediaID: id, MediaType: playback.KindEpisode, Duration: time.Duration(secs) * time.Second}
}

// abc is the [A:30, B:20, C:10] channel, cycle 60s.
func abc(t *testing.T) *Channel {
	t.Helper()
	ch, err := Build(Meta{ID: 1, OwnerID: "alice", Name: "Loop"}, []Entry{movie(1, 30), movie(2, 20), movie(3, 10)}, anchor, 1)
	require.NoError(t, err)
	return ch
}

func ids(items []Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.MediaID
	}
	return out
}

func TestBuild_PrefixSums(t *testing.T) {
	ch := abc(t)
	assert.Equal(t, 60*time.Second, ch.CycleDuration())

	var sum time.Duration
	for i, it := range ch.Items {
		assert.Equal(t, sum, it.CumulativeStart, "item %d", i)
		assert.Equal(t, i, it.Position)
		sum += it.Duration
	}
	last := ch.Items[len(ch.Items)-1]
	assert.Equal(t, ch.CycleDuration(), last.End())
}

func TestBuild_RejectsNonPositiveDurations(t *testing.T) {
	_, err := Build(Meta{ID: 7}, []Entry{movie(1, 30), movie(2, 0)}, anchor, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, playback.ErrInvalidSchedule)

	_, err = Build(Meta{ID: 7}, []Entry{{MediaID: 1, Duration: -time.Second}}, anchor, 1)
	assert.ErrorIs(t, err, playback.ErrInvalidSchedule)
}

func TestNowPlaying_WrapAround(t *testing.T) {
	ph := NowPlaying(abc(t), anchor.Add(55*time.Second), 2)

	require.NotNil(t, ph.NowPlaying)
	assert.Equal(t, int64(3), ph.NowPlaying.MediaID)
	assert.Equal(t, 5*time.Second, ph.Elapsed)
	assert.Equal(t, []int64{1, 2}, ids(ph.UpNext))
	assert.True(t, ph.Wrapped)
	assert.Equal(t, anchor, ph.CycleStart)
}

func TestNowPlaying_BoundaryBelongsToNextItem(t *testing.T) {
	ch := abc(t)

	ph := NowPlaying(ch, anchor.Add(30*time.Second), 1)
	assert.Equal(t, int64(2), ph.NowPlaying.MediaID)
	assert.Zero(t, ph.Elapsed)
	assert.False(t, ph.Wrapped)

	ph = NowPlaying(ch, anchor.Add(30*time.Second-time.Nanosecond), 1)
	assert.Equal(t, int64(1), ph.NowPlaying.MediaID)

	ph = NowPlaying(ch, anchor.Add(60*time.Second), 1)
	assert.Equal(t, int64(1), ph.NowPlaying.MediaID, "end of cycle is the start of the next")
	assert.Equal(t, anchor.Add(60*time.Second), ph.CycleStart)
}

func TestNowPlaying_LaterCycles(t *testing.T) {
	ph := NowPlaying(abc(t), anchor.Add(24*time.Hour+45*time.Second), 3)
	assert.Equal(t, int64(2), ph.NowPlaying.MediaID)
	assert.Equal(t, 15*time.Second, ph.Elapsed)
	assert.Equal(t, anchor.Add(24*time.Hour), ph.CycleStart)
	assert.Equal(t, []int64{3, 1}, ids(ph.UpNext), "at most len-1 items")
	assert.True(t, ph.Wrapped)
}

func TestNowPlaying_BeforeAnchorClampsToStart(t *testing.T) {
	ph := NowPlaying(abc(t), anchor.Add(-time.Hour), 1)
	assert.Equal(t, int64(1), ph.NowPlaying.MediaID)
	assert.Zero(t, ph.Elapsed)
	assert.Equal(t, anchor, ph.CycleStart)
}

func TestNowPlaying_EmptyChannel(t *testing.T) {
	ch, err := Build(Meta{ID: 2}, nil, anchor, 1)
	require.NoError(t, err)

	ph := NowPlaying(ch, anchor.Add(time.Minute), 3)
	assert.Nil(t, ph.NowPlaying)
	assert.Empty(t, ph.UpNext)
	assert.NotNil(t, ph.UpNext)
	assert.False(t, ph.Wrapped)

	assert.Nil(t, NowPlaying(nil, anchor, 3).NowPlaying)
}

func TestNowPlaying_SingleItem(t *testing.T) {
	ch, err := Build(Meta{ID: 3}, []Entry{episode(9, 1200)}, anchor, 1)
	require.NoError(t, err)

	ph := NowPlaying(ch, anchor.Add(50*time.Minute), 3)
	assert.Equal(t, int64(9), ph.NowPlaying.MediaID)
	assert.Equal(t, 10*time.Minute, ph.Elapsed)
	assert.Empty(t, ph.UpNext)
	assert.False(t, ph.Wrapped)
}

func TestNowPlaying_ElapsedAlwaysWithinItem(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	entries := make([]Entry, 40)
	for i := range entries {
		entries[i] = movie(int64(i), 1+rng.IntN(7200))
	}
	ch, err := Build(Meta{ID: 4}, entries, anchor, 1)
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		at := anchor.Add(time.Duration(rng.Int64N(int64(30 * 24 * time.Hour))))
		ph := NowPlaying(ch, at, 3)
		require.NotNil(t, ph.NowPlaying)
		require.GreaterOrEqual(t, ph.Elapsed, time.Duration(0))
		require.Less(t, ph.Elapsed, ph.NowPlaying.Duration)
		require.Equal(t, at, ph.CycleStart.Add(ph.NowPlaying.CumulativeStart+ph.Elapsed))
		require.Len(t, ph.UpNext, 3)
	}
}

func TestPage(t *testing.T) {
	ch := abc(t)
	assert.Equal(t, []int64{2, 3}, ids(Page(ch, 50, 1)))
	assert.Equal(t, []int64{1}, ids(Page(ch, 1, 0)))
	assert.Empty(t, Page(ch, 10, 3))
	assert.Empty(t, Page(ch, 0, 0))
	assert.Equal(t, []int64{1, 2}, ids(Page(ch, 2, -4)))
}
