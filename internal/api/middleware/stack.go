// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP ingress middleware shared by all routes.
package middleware

import (
	"github.com/go-chi/chi/v5"

	xglog "github.com/ManuGH/loopcast/internal/log"
)

// StackConfig selects the cross-cutting middleware applied to the router.
type StackConfig struct {
	AllowedOrigins []string // empty disables CORS
	CSP            string
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
	RateLimiter    *RateLimiter // nil disables rate limiting
}

// ApplyStack installs the middleware in order. Recovery runs outermost so
// panics in any later layer are caught; the request id comes next so every
// log line and problem body can carry it.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	r.Use(SecurityHeaders(cfg.CSP))
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}
}
