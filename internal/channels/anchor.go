// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"strings"
	"time"
)

// Strategy decides the anchor of an edited channel.
type Strategy string

const (
	// Preserve keeps the anchor. Viewers tuned in during an edit jump to
	// whatever the new list has at the same cycle offset.
	Preserve Strategy = "preserve"
	// Rebase moves the anchor so the item playing at the edit continues at
	// the same offset. If it was removed, the new cycle starts at the edit.
	Rebase Strategy = "rebase"
)

// ParseStrategy defaults to Preserve for unknown values.
func ParseStrategy(s string) Strategy {
	if Strategy(strings.ToLower(strings.TrimSpace(s))) == Rebase {
		return Rebase
	}
	return Preserve
}

// Reanchor returns the anchor next should use when it replaces prev at
// instant at.
func (s Strategy) Reanchor(prev, next *Channel, at time.Time) time.Time {
	if prev == nil {
		return at
	}
	if s != Rebase {
		return prev.Anchor
	}
	if next == nil || len(next.Items) == 0 {
		return at
	}

	ph := NowPlaying(prev, at, 0)
	if ph.NowPlaying == nil {
		return at
	}
	ref := ph.NowPlaying.Ref()

	// Prefer the occurrence closest to the old position when the media
	// appears more than once.
	best := -1
	for i, it := range next.Items {
		if it.Ref() != ref {
			continue
		}
		if best < 0 || absInt(i-ph.NowPlaying.Position) < absInt(best-ph.NowPlaying.Position) {
			best = i
		}
	}
	if best < 0 {
		return at
	}
	it := next.Items[best]
	elapsed := ph.Elapsed
	if elapsed >= it.Duration {
		// the media got shorter; restart it
		elapsed = 0
	}
	return at.Add(-elapsed - it.CumulativeStart)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
