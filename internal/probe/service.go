// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe inspects media files and caches the result per file version.
package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/loopcast/internal/cache"
	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/telemetry"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	CacheTTL      time.Duration
	RatePerSecond float64
	Burst         int
}

// Service is the MediaProbe: stat, cache lookup, deduped ffprobe run.
type Service struct {
	runner  Runner
	store   cache.Store
	opts    Options
	limiter *rate.Limiter
	group   singleflight.Group
	logger  zerolog.Logger
}

// New builds a Service. store may be nil, which disables caching.
func New(runner Runner, store cache.Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 8
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	return &Service{
		runner:  runner,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:  xglog.WithComponent("probe"),
	}
}

// Probe returns the SourceProbe for path. Failures carry ErrProbeFailed or
// ErrUnsupportedSource as their kind.
func (s *Service) Probe(ctx context.Context, path string) (result playback.SourceProbe, err error) {
	ctx, span := telemetry.StartSpan(ctx, "probe")
	span.SetAttributes(attribute.String(telemetry.MediaPathKey, path))
	defer func() { telemetry.EndSpan(span, err) }()

	fi, err := os.Stat(path)
	if err != nil {
		metrics.RecordProbe("error", 0)
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, err)
	}
	if fi.IsDir() {
		metrics.RecordProbe("error", 0)
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, errors.New("is a directory"))
	}
	key := Key(path, fi.ModTime(), fi.Size())

	if p, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.String(telemetry.ProbeCacheKey, "hit"))
		metrics.RecordProbe("hit", 0)
		return p, nil
	}
	span.SetAttributes(attribute.String(telemetry.ProbeCacheKey, "miss"))

	// The shared run outlives any single caller; the probe timeout bounds it.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.run(runCtx, path, key)
	})
	if err != nil {
		return playback.SourceProbe{}, err
	}
	if shared {
		s.logger.Debug().Str(xglog.FieldPath, path).Msg("joined in-flight probe")
	}
	return v.(playback.SourceProbe), nil
}

func (s *Service) run(ctx context.Context, path, key string) (playback.SourceProbe, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		metrics.RecordProbe("error", 0)
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.runner.Run(runCtx, path)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordProbe("error", elapsed)
		s.logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("probe failed")
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, err)
	}

	p, err := Parse(raw)
	switch {
	case errors.Is(err, errNoStreams):
		metrics.RecordProbe("unsupported", elapsed)
		return playback.SourceProbe{}, playback.E(playback.ErrUnsupportedSource, "probe", path, err)
	case err != nil:
		metrics.RecordProbe("error", elapsed)
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, err)
	}

	metrics.RecordProbe("miss", elapsed)
	s.logger.Debug().
		Str(xglog.FieldPath, path).
		Str(xglog.FieldCodec, p.VideoCodec).
		Dur("duration", p.Duration).
		Msg("probed source")
	s.remember(ctx, key, p)
	return p, nil
}

func (s *Service) lookup(ctx context.Context, key string) (playback.SourceProbe, bool) {
	if s.store == nil {
		return playback.SourceProbe{}, false
	}
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		metrics.IncProbeCacheError(s.store.Name(), "get")
		s.logger.Warn().Err(err).Str("backend", s.store.Name()).Msg("probe cache get failed, treating as miss")
		return playback.SourceProbe{}, false
	}
	if !ok {
		return playback.SourceProbe{}, false
	}
	var p playback.SourceProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn().Err(err).Msg("discarding undecodable probe cache entry")
		_ = s.store.Delete(ctx, key)
		return playback.SourceProbe{}, false
	}
	return p, true
}

func (s *Service) remember(ctx context.Context, key string, p playback.SourceProbe) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, raw, s.opts.CacheTTL); err != nil {
		metrics.IncProbeCacheError(s.store.Name(), "set")
		s.logger.Warn().Err(err).Str("backend", s.store.Name()).Msg("probe cache set failed")
	}
}

// Key identifies one version of a file.
func Key(path string, mtime time.Time, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d", path, mtime.UnixNano(), size)))
	return hex.EncodeToString(sum[:16])
}
