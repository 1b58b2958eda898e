// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"math/rand/v2"
)

// Source is a pool of entries a channel draws its schedule from.
type Source struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Weight  int     `json:"weight"`
	Shuffle bool    `json:"shuffle"`
	Entries []Entry `json:"-"`
}

// Generate lays out a schedule from sources. Entries without a positive
// duration and empty sources are skipped; each source's entries are shuffled
// when its Shuffle flag is set.
//
// When every source has the same weight the sources take turns (round-robin
// in a shuffled source order), so a small source repeats instead of being
// drowned out. Otherwise every entry is repeated weight times and the whole
// list is shuffled.
func Generate(sources []Source, rng *rand.Rand) []Entry {
	type pool struct {
		weight  int
		entries []Entry
	}
	var pools []pool
	for _, src := range sources {
		entries := make([]Entry, 0, len(src.Entries))
		for _, e := range src.Entries {
			if e.Duration > 0 {
				entries = append(entries, e)
			}
		}
		if len(entries) == 0 {
			continue
		}
		if src.Shuffle {
			rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		}
		w := src.Weight
		if w < 1 {
			w = 1
		}
		pools = append(pools, pool{weight: w, entries: entries})
	}
	if len(pools) == 0 {
		return nil
	}

	equal := true
	for _, p := range pools[1:] {
		if p.weight != pools[0].weight {
			equal = false
			break
		}
	}

	var out []Entry
	if equal && len(pools) > 1 {
		longest := 0
		for _, p := range pools {
			longest = max(longest, len(p.entries))
		}
		order := rng.Perm(len(pools))
		rounds := pools[0].weight * longest
		for round := 0; round < rounds; round++ {
			for _, pi := range order {
				p := pools[pi]
				out = append(out, p.entries[round%len(p.entries)])
			}
		}
		return out
	}

	for _, p := range pools {
		for i := 0; i < p.weight; i++ {
			out = append(out, p.entries...)
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
