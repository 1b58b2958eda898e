// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package planner decides how a source reaches a client: unmodified or
// through a named transcode profile.
package planner

import (
	"sort"
	"strings"

	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/profiles"
)

const (
	PlatformAppleTV = "apple_tv"
	PlatformFireTV  = "fire_tv"

	// FallbackCodec is the target codec whenever the client is unknown.
	FallbackCodec = "h264"
	// AudioCodec is the target codec of sources without a video stream.
	AudioCodec = "aac"
)

var builtinPlatforms = map[string][]string{
	PlatformAppleTV: {"h264", "hevc"},
	PlatformFireTV:  {"h264", "hevc", "vp9"},
}

// Planner holds the immutable platform capability table. The zero value is
// not usable; construct with New.
type Planner struct {
	platforms      map[string]map[string]bool
	defaultProfile string
}

// New builds a planner from the built-in table extended by extra. Entries in
// extra add platforms or replace the codec set of an existing one.
func New(extra map[string][]string, defaultProfile string) *Planner {
	p := &Planner{
		platforms:      make(map[string]map[string]bool, len(builtinPlatforms)+len(extra)),
		defaultProfile: profiles.Normalize(defaultProfile),
	}
	if p.defaultProfile == "" {
		p.defaultProfile = profiles.Default
	}
	for name, codecs := range builtinPlatforms {
		p.platforms[name] = codecSet(codecs)
	}
	for name, codecs := range extra {
		p.platforms[normalizeToken(name)] = codecSet(codecs)
	}
	return p
}

// Plan is pure and total: for the same inputs it always returns the same
// decision and it never fails.
func (p *Planner) Plan(probe playback.SourceProbe, platform, requestedProfile string) playback.Decision {
	requested := profiles.Normalize(requestedProfile)
	explicit := strings.TrimSpace(requestedProfile) != ""
	codecs, known := p.platforms[normalizeToken(platform)]

	if !known {
		return playback.Decision{
			Mode:        playback.ModeTranscode,
			Profile:     p.pick(requested),
			TargetCodec: FallbackCodec,
			Reason:      playback.ReasonUnknownPlatform,
		}
	}

	if !explicit && !probe.HasVideo() {
		return playback.Decision{
			Mode:        playback.ModeTranscode,
			Profile:     p.defaultProfile,
			TargetCodec: AudioCodec,
			Reason:      playback.ReasonAudioOnly,
		}
	}

	source := CanonicalCodec(probe.VideoCodec)
	if !explicit && source != "" && codecs[source] {
		return playback.Decision{
			Mode:        playback.ModeDirectPlay,
			TargetCodec: source,
			Reason:      playback.ReasonCodecSupported,
		}
	}

	reason := playback.ReasonCodecUnsupported
	if explicit {
		reason = playback.ReasonProfileRequested
	}
	return playback.Decision{
		Mode:        playback.ModeTranscode,
		Profile:     p.pick(requested),
		TargetCodec: FallbackCodec,
		Reason:      reason,
	}
}

// Platforms lists known platform names in sorted order.
func (p *Planner) Platforms() []string {
	out := make([]string, 0, len(p.platforms))
	for name := range p.platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p *Planner) pick(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultProfile
}

func codecSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if c := CanonicalCodec(v); c != "" {
			set[c] = true
		}
	}
	return set
}

// CanonicalCodec folds ffprobe and encoder spellings onto one codec name.
func CanonicalCodec(raw string) string {
	v := normalizeToken(raw)
	switch v {
	case "h264", "avc", "avc1", "libx264":
		return "h264"
	case "hevc", "h265", "h.265", "hvc1", "hev1", "libx265":
		return "hevc"
	case "vp9", "vp09", "libvpx-vp9":
		return "vp9"
	case "av1", "av01", "libaom-av1", "libsvtav1":
		return "av1"
	default:
		return v
	}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
