// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package channels turns a looping item list into a wall-clock "now playing"
// view. Channels are immutable snapshots; edits produce a new version.
package channels

import (
	"fmt"
	"time"

	"github.com/ManuGH/loopcast/internal/playback"
)

// Meta is the descriptive part of a channel.
type Meta struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
}

// Entry is one schedule element before prefix sums are computed.
type Entry struct {
	MediaID   int64              `json:"media_id"`
	MediaType playback.MediaKind `json:"media_type"`
	Title     string             `json:"title,omitempty"`
	Duration  time.Duration      `json:"-"`
}

// Ref is the catalog reference of the entry.
func (e Entry) Ref() playback.MediaRef {
	return playback.MediaRef{Kind: e.MediaType, ID: e.MediaID}
}

// Item is a scheduled entry with its offset inside the cycle.
type Item struct {
	Entry
	CumulativeStart time.Duration `json:"-"`
	Position        int           `json:"position"`
}

// End is the offset at which the item stops playing.
func (it Item) End() time.Duration { return it.CumulativeStart + it.Duration }

// Channel is an immutable, versioned schedule snapshot. Build is the only
// constructor; callers must not modify Items.
type Channel struct {
	Meta
	Items   []Item
	Anchor  time.Time
	Version uint64

	cycle time.Duration
}

// CycleDuration is the sum of all item durations.
func (c *Channel) CycleDuration() time.Duration { return c.cycle }

// Entries returns the item list without offsets, e.g. to persist it.
func (c *Channel) Entries() []Entry {
	out := make([]Entry, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.Entry
	}
	return out
}

// Build validates entries and computes the prefix sums. Any zero or negative
// duration is rejected with ErrInvalidSchedule; an empty list is valid.
func Build(meta Meta, entries []Entry, anchor time.Time, version uint64) (*Channel, error) {
	items := make([]Item, len(entries))
	var offset time.Duration
	for i, e := range entries {
		if e.Duration <= 0 {
			return nil, playback.E(playback.ErrInvalidSchedule, "channels.build", fmt.Sprint(meta.ID),
				fmt.Errorf("item %d (%s) has duration %s", i, e.Ref(), e.Duration))
		}
		items[i] = Item{Entry: e, CumulativeStart: offset, Position: i}
		offset += e.Duration
	}
	return &Channel{
		Meta:    meta,
		Items:   items,
		Anchor:  anchor,
		Version: version,
		cycle:   offset,
	}, nil
}

// withAnchor returns a copy of c with a different anchor. Items are shared.
func (c *Channel) withAnchor(anchor time.Time) *Channel {
	cp := *c
	cp.Anchor = anchor
	return &cp
}
