// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/loopcast/internal/api/middleware"
	"github.com/ManuGH/loopcast/internal/api/problem"
)

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	middleware.ApplyStack(r, s.opts.Stack)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusNotFound, "system/not_found", "Not Found", "NOT_FOUND", "", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "Method Not Allowed", "METHOD_NOT_ALLOWED", "", nil)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/stream/{id}", func(r chi.Router) {
			r.Get("/manifest.m3u8", s.handleManifest)
			r.Get("/segment/{num}.ts", s.handleSegment)
			r.Get("/direct", s.handleDirect)
			r.Head("/direct", s.handleDirect)
			r.Get("/subtitles/{lang}.vtt", s.handleSubtitle)
			r.Get("/thumbnail.jpg", s.handleThumbnail)
			r.Delete("/transcode", s.handleStopTranscode)
		})

		r.Get("/channels", s.handleListChannels)
		r.Route("/channels/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetChannel)
			r.Get("/now-playing", s.handleNowPlaying)
			r.Get("/schedule", s.handleSchedule)
			r.Post("/regenerate", s.handleRegenerate)
		})

		r.Get("/transcode/jobs", s.handleJobs)
	})
	return r
}
