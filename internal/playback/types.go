// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback holds the value types shared by the probe, planner and
// transcode packages.
package playback

import (
	"fmt"
	"time"
)

// SourceProbe is the immutable result of inspecting a media file.
type SourceProbe struct {
	Container  string
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	Duration   time.Duration
	Bitrate    int64 // bits per second
	Subtitles  []SubtitleStream
}

// SubtitleStream describes one text subtitle stream of a source.
// Index is relative to the subtitle streams only (ffmpeg's 0:s:<index>).
type SubtitleStream struct {
	Index    int
	Language string
	Codec    string
}

// HasVideo reports whether the probe found a video stream.
func (p SourceProbe) HasVideo() bool { return p.VideoCodec != "" }

// HasAudio reports whether the probe found an audio stream.
func (p SourceProbe) HasAudio() bool { return p.AudioCodec != "" }

// Resolution renders the frame size as WxH, or "" when unknown.
func (p SourceProbe) Resolution() string {
	if p.Width <= 0 || p.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// SubtitleIndex returns the subtitle stream index for a language tag.
func (p SourceProbe) SubtitleIndex(lang string) (int, bool) {
	for _, s := range p.Subtitles {
		if s.Language == lang {
			return s.Index, true
		}
	}
	return 0, false
}

// Mode is the delivery path chosen for a request.
type Mode string

const (
	ModeDirectPlay Mode = "direct_play"
	ModeTranscode  Mode = "transcode"
)

// Reason is a stable, lowercase explanation for a Decision.
type Reason string

const (
	ReasonCodecSupported   Reason = "codec_supported"
	ReasonCodecUnsupported Reason = "codec_unsupported"
	ReasonProfileRequested Reason = "profile_requested"
	ReasonUnknownPlatform  Reason = "unknown_platform"
	ReasonAudioOnly        Reason = "audio_only"
)

// Decision is the pure output of the planner. Profile is empty for DirectPlay.
type Decision struct {
	Mode        Mode
	Profile     string
	TargetCodec string
	Reason      Reason
}

// DirectPlay reports whether the source can be served unmodified.
func (d Decision) DirectPlay() bool { return d.Mode == ModeDirectPlay }

// JobState is the lifecycle state of a transcode job.
type JobState string

const (
	JobRequested JobState = "requested"
	JobStarting  JobState = "starting"
	JobRunning   JobState = "running"
	JobReady     JobState = "ready"
	JobStopping  JobState = "stopping"
	JobStopped   JobState = "stopped"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStopped || s == JobFailed
}

// MediaKind selects the catalog table a media id belongs to.
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindEpisode MediaKind = "episode"
	KindExtra   MediaKind = "extra"
)

// ParseMediaKind maps the stream "type" query value to a kind. An empty value
// means movie.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch MediaKind(s) {
	case "", KindMovie:
		return KindMovie, true
	case KindEpisode:
		return KindEpisode, true
	case KindExtra:
		return KindExtra, true
	default:
		return "", false
	}
}

// MediaRef identifies one playable catalog entry.
type MediaRef struct {
	Kind MediaKind
	ID   int64
}

// String is the engine-wide media id, e.g. "episode-42". Transcode jobs and
// auxiliary files are keyed by it.
func (r MediaRef) String() string { return fmt.Sprintf("%s-%d", r.Kind, r.ID) }
