// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loopcast_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern, method and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	channelQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_channel_now_playing_total",
		Help: "Now-playing computations by result (playing, empty)",
	}, []string{"result"})

	channelSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopcast_channel_snapshots",
		Help: "Channel snapshots held in the copy-on-write store",
	})
)

// ObserveHTTP records one served request. route must be the router pattern,
// never the raw path.
func ObserveHTTP(route, method string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(route, method, statusClass(status)).Observe(seconds)
}

// IncNowPlaying counts a scheduler query.
func IncNowPlaying(empty bool) {
	if empty {
		channelQueries.WithLabelValues("empty").Inc()
		return
	}
	channelQueries.WithLabelValues("playing").Inc()
}

// SetChannelSnapshots publishes the snapshot store size.
func SetChannelSnapshots(n int) { channelSnapshots.Set(float64(n)) }

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
