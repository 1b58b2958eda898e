// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profiles

import (
	"sort"
	"strings"
)

const (
	Profile1080p = "1080p"
	Profile720p  = "720p"
	Profile480p  = "480p"

	// Default is used when a transcode is required but no valid profile was requested.
	Default = Profile720p
)

// Profile is a named transcode target. Values are immutable.
type Profile struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string // ffmpeg notation, e.g. "4M"
	AudioBitrate string
	Preset       string // libx264 preset; hardware encoders ignore it
}

var registry = map[string]Profile{
	Profile1080p: {Name: Profile1080p, Width: 1920, Height: 1080, VideoBitrate: "8M", AudioBitrate: "192k", Preset: "fast"},
	Profile720p:  {Name: Profile720p, Width: 1280, Height: 720, VideoBitrate: "4M", AudioBitrate: "128k", Preset: "fast"},
	Profile480p:  {Name: Profile480p, Width: 854, Height: 480, VideoBitrate: "1500k", AudioBitrate: "128k", Preset: "fast"},
}

var aliasMap = map[string]string{
	"hd":     Profile1080p,
	"high":   Profile1080p,
	"fullhd": Profile1080p,
	"medium": Profile720p,
	"sd":     Profile480p,
	"low":    Profile480p,
	"mobile": Profile480p,
}

// Normalize maps aliases and case variants to a registry name. Unknown names
// return "".
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := registry[n]; ok {
		return n
	}
	if alias, ok := aliasMap[n]; ok {
		return alias
	}
	return ""
}

// Lookup returns the profile registered under name (aliases accepted).
func Lookup(name string) (Profile, bool) {
	p, ok := registry[Normalize(name)]
	return p, ok
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Profile {
	p, ok := Lookup(name)
	if !ok {
		panic("profiles: unknown profile " + name)
	}
	return p
}

// Names lists the registered profile names, highest resolution first.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return registry[out[i]].Height > registry[out[j]].Height
	})
	return out
}
