// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/loopcast/internal/api/problem"
	"github.com/ManuGH/loopcast/internal/log"
)

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	// Whitelist holds IPs or CIDRs that bypass the limiter.
	Whitelist []string
}

type limiterState struct {
	cfg       RateLimitConfig
	limit     func(http.Handler) http.Handler
	whitelist []netip.Prefix
}

// RateLimiter is a per-IP sliding-window limiter whose settings can be
// swapped at runtime.
type RateLimiter struct {
	state atomic.Pointer[limiterState]
}

// NewRateLimiter builds a limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{}
	rl.Update(cfg)
	return rl
}

// Update replaces the limiter settings. Counters restart when the limit
// changes.
func (rl *RateLimiter) Update(cfg RateLimitConfig) {
	if prev := rl.state.Load(); prev != nil && sameLimit(prev.cfg, cfg) {
		return
	}
	st := &limiterState{cfg: cfg, whitelist: parseWhitelist(cfg.Whitelist)}
	if cfg.Enabled && cfg.RequestsPerMinute > 0 {
		st.limit = httprate.Limit(cfg.RequestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(limitExceeded),
		)
	}
	rl.state.Store(st)
}

// Handler is the middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := rl.state.Load()
		if st.limit == nil || whitelisted(st.whitelist, r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}
		st.limit(next).ServeHTTP(w, r)
	})
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "ratelimit")
	logger.Warn().
		Str(log.FieldEvent, "request.rate_limited").
		Str("remote_addr", r.RemoteAddr).
		Msg("rate limit exceeded")
	w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
	problem.Write(w, r, http.StatusTooManyRequests, "system/rate_limited", "Too Many Requests", "RATE_LIMITED",
		"Too many requests. Please try again later.", nil)
}

func sameLimit(a, b RateLimitConfig) bool {
	return a.Enabled == b.Enabled && a.RequestsPerMinute == b.RequestsPerMinute &&
		strings.Join(a.Whitelist, ",") == strings.Join(b.Whitelist, ",")
}

func parseWhitelist(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func whitelisted(prefixes []netip.Prefix, remote string) bool {
	if len(prefixes) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
