// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopcast_transcode_jobs_active",
		Help: "Transcode jobs currently present in the registry",
	})

	jobStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_job_starts_total",
		Help: "Encoder start attempts by accelerator and result",
	}, []string{"hwaccel", "result"})

	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_job_transitions_total",
		Help: "Job state transitions by target state",
	}, []string{"state"})

	jobFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_hwaccel_fallback_total",
		Help: "Hardware accelerator failures that fell back to software encoding",
	}, []string{"hwaccel"})

	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_acquire_total",
		Help: "Acquire calls by outcome (created, joined, rejected, error, canceled)",
	}, []string{"outcome"})

	readyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loopcast_transcode_ready_seconds",
		Help:    "Time from encoder start to the first playable segment",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"hwaccel"})

	evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_evictions_total",
		Help: "Jobs removed from the registry by cause",
	}, []string{"cause"})

	auxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_transcode_aux_total",
		Help: "Auxiliary extraction operations by kind and result",
	}, []string{"kind", "result"})

	admissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_admission_rejects_total",
		Help: "Encoder admission refusals by reason",
	}, []string{"reason"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_process_terminate_total",
		Help: "Process group signals sent during encoder shutdown",
	}, []string{"signal", "result"})
)

// SetActiveJobs publishes the registry size.
func SetActiveJobs(n int) { jobsActive.Set(float64(n)) }

// IncJobStart counts an encoder spawn attempt.
func IncJobStart(hwaccel, result string) {
	jobStarts.WithLabelValues(hwaccelLabel(hwaccel), normalizeLabel(result, "ok", "error")).Inc()
}

// IncJobTransition counts a state change into state.
func IncJobTransition(state string) {
	jobTransitions.WithLabelValues(normalizeLabel(state,
		"requested", "starting", "running", "ready", "stopping", "stopped", "failed")).Inc()
}

// IncHWFallback counts a hardware start failure that fell back to software.
func IncHWFallback(hwaccel string) { jobFallbacks.WithLabelValues(hwaccelLabel(hwaccel)).Inc() }

// IncAcquire counts an Acquire outcome.
func IncAcquire(outcome string) {
	acquireTotal.WithLabelValues(normalizeLabel(outcome, "created", "joined", "rejected", "error", "canceled")).Inc()
}

// ObserveReady records the time to first segment.
func ObserveReady(hwaccel string, seconds float64) {
	readyLatency.WithLabelValues(hwaccelLabel(hwaccel)).Observe(seconds)
}

// IncEviction counts a registry removal.
func IncEviction(cause string) {
	evictions.WithLabelValues(normalizeLabel(cause, "idle", "failed", "stopped", "shutdown")).Inc()
}

// IncAux counts a subtitle or thumbnail extraction.
func IncAux(kind, result string) {
	auxTotal.WithLabelValues(normalizeLabel(kind, "subtitle", "thumbnail"), normalizeLabel(result, "ok", "cached", "error")).Inc()
}

// IncAdmissionReject counts a refused encoder start.
func IncAdmissionReject(reason string) {
	admissionRejects.WithLabelValues(normalizeLabel(reason, "capacity", "cpu_load", "disk_space")).Inc()
}

// IncProcTerminate counts a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(normalizeLabel(signal, "sigterm", "sigkill"), normalizeLabel(result, "sent", "esrch", "error")).Inc()
}

func hwaccelLabel(v string) string {
	return normalizeLabel(v, "none", "videotoolbox", "nvenc", "qsv", "vaapi")
}
