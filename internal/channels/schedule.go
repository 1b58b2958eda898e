// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"sort"
	"time"
)

// Playhead is the answer to "what is on right now". NowPlaying is nil for a
// channel without items.
type Playhead struct {
	NowPlaying *Item
	Elapsed    time.Duration
	UpNext     []Item
	Wrapped    bool
	CycleStart time.Time
}

// NowPlaying locates the item playing at instant at. Instants before the
// anchor count as the anchor itself. upNext items following the current one
// are collected, wrapping to the start of the list; at most len(Items)-1 are
// returned so no item appears twice.
func NowPlaying(ch *Channel, at time.Time, upNext int) Playhead {
	if ch == nil || len(ch.Items) == 0 || ch.cycle <= 0 {
		ph := Playhead{UpNext: []Item{}}
		if ch != nil {
			ph.CycleStart = ch.Anchor
		}
		return ph
	}

	since := at.Sub(ch.Anchor)
	if since < 0 {
		since = 0
	}
	cycles := since / ch.cycle
	pos := since % ch.cycle

	// first item starting after pos, minus one: start-inclusive, end-exclusive
	idx := sort.Search(len(ch.Items), func(i int) bool {
		return ch.Items[i].CumulativeStart > pos
	}) - 1

	cur := ch.Items[idx]
	ph := Playhead{
		NowPlaying: &cur,
		Elapsed:    pos - cur.CumulativeStart,
		CycleStart: ch.Anchor.Add(cycles * ch.cycle),
	}

	n := upNext
	if n > len(ch.Items)-1 {
		n = len(ch.Items) - 1
	}
	if n < 0 {
		n = 0
	}
	ph.UpNext = make([]Item, 0, n)
	for step := 1; step <= n; step++ {
		next := idx + step
		if next >= len(ch.Items) {
			ph.Wrapped = true
			next -= len(ch.Items)
		}
		ph.UpNext = append(ph.UpNext, ch.Items[next])
	}
	return ph
}

// Page returns items[offset:offset+limit] clamped to the list.
func Page(ch *Channel, limit, offset int) []Item {
	if ch == nil || offset >= len(ch.Items) || limit <= 0 {
		return []Item{}
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(ch.Items) {
		end = len(ch.Items)
	}
	out := make([]Item, end-offset)
	copy(out, ch.Items[offset:end])
	return out
}
