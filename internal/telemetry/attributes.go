// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by spans across packages.
const (
	MediaIDKey      = "media.id"
	MediaPathKey    = "media.path"
	ProfileKey      = "transcode.profile"
	HWAccelKey      = "transcode.hwaccel"
	JobOutcomeKey   = "transcode.outcome"
	ProbeCacheKey   = "probe.cache"
	ChannelIDKey    = "channel.id"
	ChannelVerKey   = "channel.version"
	PlaybackModeKey = "playback.mode"
)

// TranscodeAttributes describes an Acquire call.
func TranscodeAttributes(mediaID, profile string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MediaIDKey, mediaID),
		attribute.String(ProfileKey, profile),
	}
}

// ChannelAttributes describes a scheduler query.
func ChannelAttributes(channelID int64, version uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(ChannelIDKey, channelID),
		attribute.Int64(ChannelVerKey, int64(version)),
	}
}
