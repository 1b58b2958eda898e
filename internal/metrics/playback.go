// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_playback_decision_total",
		Help: "Playback planning outcomes by mode, profile, platform and reason",
	}, []string{"mode", "profile", "platform", "reason"})

	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_probe_total",
		Help: "Media probe requests by outcome (hit, miss, error, unsupported)",
	}, []string{"outcome"})

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopcast_probe_duration_seconds",
		Help:    "Wall time of ffprobe invocations",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	probeCacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_probe_cache_errors_total",
		Help: "Probe cache backend errors by backend and operation",
	}, []string{"backend", "op"})
)

// RecordDecision records one planner outcome.
func RecordDecision(mode, profile, platform, reason string) {
	decisionTotal.WithLabelValues(
		normalizeLabel(mode, "direct_play", "transcode"),
		normalizeLabel(profile, "", "1080p", "720p", "480p"),
		normalizeLabel(platform, "apple_tv", "fire_tv"),
		normalizeLabel(reason, "codec_supported", "codec_unsupported", "profile_requested", "unknown_platform", "audio_only"),
	).Inc()
}

// RecordProbe records a probe outcome and, for real invocations, its duration.
func RecordProbe(outcome string, seconds float64) {
	probeTotal.WithLabelValues(normalizeLabel(outcome, "hit", "miss", "error", "unsupported")).Inc()
	if seconds > 0 {
		probeDuration.Observe(seconds)
	}
}

// IncProbeCacheError counts a degraded cache operation.
func IncProbeCacheError(backend, op string) {
	probeCacheErrors.WithLabelValues(
		normalizeLabel(backend, "memory", "redis", "badger"),
		normalizeLabel(op, "get", "set", "delete"),
	).Inc()
}

// normalizeLabel keeps label cardinality bounded: anything outside allowed
// collapses to "other".
func normalizeLabel(value string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			if v == "" {
				return "none"
			}
			return v
		}
	}
	return "other"
}
