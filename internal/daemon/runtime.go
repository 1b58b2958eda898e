// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the runtime from configuration and owns its
// lifecycle: listener, config reloads and ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/loopcast/internal/admission"
	"github.com/ManuGH/loopcast/internal/api"
	"github.com/ManuGH/loopcast/internal/api/middleware"
	"github.com/ManuGH/loopcast/internal/auth"
	"github.com/ManuGH/loopcast/internal/cache"
	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/config"
	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/persistence/sqlite"
	"github.com/ManuGH/loopcast/internal/planner"
	"github.com/ManuGH/loopcast/internal/probe"
	"github.com/ManuGH/loopcast/internal/telemetry"
	"github.com/ManuGH/loopcast/internal/transcode"
)

// Runners lets callers replace the external tools. Nil fields run ffmpeg
// and ffprobe from the configured paths.
type Runners struct {
	Transcode transcode.Runner
	Probe     probe.Runner
}

// Runtime is the assembled component graph.
type Runtime struct {
	Server   *api.Server
	Handler  http.Handler
	Store    *sqlite.Store
	Channels *channels.Store
	Engine   *transcode.Engine
	Limiter  *middleware.RateLimiter
	Tokens   *auth.Validator

	probeCache cache.Store
	tracing    *telemetry.Provider
}

// Bootstrap builds every component from cfg. On error, everything opened so
// far is closed again.
func Bootstrap(ctx context.Context, cfg config.Config, runners Runners) (rt *Runtime, err error) {
	logger := xglog.WithComponent("daemon")
	rt = &Runtime{}
	defer func() {
		if err != nil {
			if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn().Err(cerr).Msg("cleanup after failed bootstrap")
			}
			rt = nil
		}
	}()

	rt.tracing, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return rt, fmt.Errorf("telemetry: %w", err)
	}

	if err = os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return rt, fmt.Errorf("create data dir: %w", err)
	}
	rt.Store, err = sqlite.New(cfg.Database.Path, sqlite.Config{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		return rt, fmt.Errorf("open database: %w", err)
	}

	rt.probeCache, err = cache.New(cache.Options{
		Backend:         cfg.Probe.Cache.Backend,
		RedisAddr:       cfg.Probe.Cache.RedisAddr,
		RedisPassword:   cfg.Probe.Cache.RedisPassword,
		RedisDB:         cfg.Probe.Cache.RedisDB,
		BadgerDir:       cfg.Probe.Cache.BadgerDir,
		CleanupInterval: time.Minute,
	}, xglog.WithComponent("cache"))
	if err != nil {
		return rt, fmt.Errorf("probe cache: %w", err)
	}

	probeRunner := runners.Probe
	if probeRunner == nil {
		probeRunner = probe.ExecRunner{Bin: config.ResolveFFprobeBin(cfg.FFmpeg.FFprobeBin, cfg.FFmpeg.Bin)}
	}
	prober := probe.New(probeRunner, rt.probeCache, probe.Options{
		Timeout:       cfg.Probe.Timeout,
		CacheTTL:      cfg.Probe.Cache.TTL,
		RatePerSecond: cfg.Probe.RatePerSecond,
		Burst:         cfg.Probe.Burst,
	})

	adm := admission.New(admission.Options{
		MaxJobs:        cfg.Transcode.MaxJobs,
		MaxLoadPerCore: cfg.Admission.MaxLoadPerCore,
		MinFreeBytes:   cfg.Admission.MinFreeBytes,
		OutputRoot:     cfg.Transcode.OutputRoot,
	})
	encoder := runners.Transcode
	if encoder == nil {
		encoder = transcode.NewExecRunner(cfg.FFmpeg.Bin, cfg.Transcode.VAAPIDevice)
	}
	rt.Engine, err = transcode.NewEngine(transcode.Options{
		OutputRoot:      cfg.Transcode.OutputRoot,
		HWAccel:         transcode.ParseHWAccel(cfg.Transcode.HWAccel),
		VAAPIDevice:     cfg.Transcode.VAAPIDevice,
		SegmentSeconds:  cfg.Transcode.SegmentSeconds,
		IdleGrace:       cfg.Transcode.IdleGrace,
		KillGrace:       cfg.Transcode.KillGrace,
		ReadyTimeout:    cfg.Transcode.ReadyTimeout,
		JanitorInterval: cfg.Transcode.JanitorInterval,
	}, encoder, adm)
	if err != nil {
		return rt, fmt.Errorf("transcode engine: %w", err)
	}

	rt.Channels = channels.NewStore(rt.Store, channels.StoreOptions{
		Strategy:     channels.ParseStrategy(cfg.Channels.AnchorStrategy),
		RefreshAfter: cfg.Channels.RefreshAfter,
	})
	rt.Tokens = auth.NewValidator(cfg.Auth.Tokens)
	rt.Limiter = middleware.NewRateLimiter(rateLimitConfig(cfg.Server.RateLimit))

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = cfg.Telemetry.ServiceName
	}
	outputRoot := cfg.Transcode.OutputRoot
	rt.Server = api.New(api.Deps{
		Catalog:    rt.Store,
		Prober:     prober,
		Planner:    planner.New(cfg.Planner.Platforms, cfg.Planner.DefaultProfile),
		Transcoder: api.EngineTranscoder(rt.Engine),
		Channels:   rt.Channels,
		Auth:       rt.Tokens,
		Checks: []api.Check{
			{Name: "database", Run: rt.Store.Ping},
			{Name: "transcode_root", Run: func(context.Context) error {
				_, err := os.Stat(outputRoot)
				return err
			}},
		},
		Metrics: promhttp.Handler(),
	}, api.Options{
		UpNext:          cfg.Channels.UpNext,
		AllowQueryToken: cfg.Auth.AllowQueryToken,
		Stack: middleware.StackConfig{
			AllowedOrigins: cfg.Server.CORSOrigins,
			CSP:            middleware.DefaultCSP,
			EnableMetrics:  true,
			TracingService: tracingService,
			EnableLogging:  true,
			RateLimiter:    rt.Limiter,
		},
	})
	rt.Handler = rt.Server.Handler()

	if rt.Tokens.Len() == 0 {
		logger.Warn().Str("event", "auth.no_tokens").Msg("no API tokens configured; every /api request will be rejected")
	}
	logger.Info().
		Str("event", "daemon.bootstrapped").
		Str("database", cfg.Database.Path).
		Str("probe_cache", rt.probeCache.Name()).
		Str("hwaccel", cfg.Transcode.HWAccel).
		Int("max_jobs", cfg.Transcode.MaxJobs).
		Msg("runtime assembled")
	return rt, nil
}

func rateLimitConfig(c config.RateLimitConfig) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Enabled:           c.Enabled,
		RequestsPerMinute: c.RequestsPerMinute,
		Whitelist:         c.Whitelist,
	}
}

// Apply pushes the hot-reloadable settings of cfg into the running
// components. Everything else needs a restart.
func (rt *Runtime) Apply(cfg config.Config) {
	if cfg.LogLevel != "" {
		if err := xglog.SetLevel(cfg.LogLevel); err != nil {
			logger := xglog.WithComponent("daemon")
			logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level ignored")
		}
	}
	rt.Limiter.Update(rateLimitConfig(cfg.Server.RateLimit))
	rt.Channels.SetStrategy(channels.ParseStrategy(cfg.Channels.AnchorStrategy))
	rt.Server.SetUpNext(cfg.Channels.UpNext)
	rt.Tokens.SetTokens(cfg.Auth.Tokens)
}

// Close stops the engine first so no encoder outlives its output root, then
// releases the stores.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Server != nil {
		rt.Server.SetReady(false)
	}
	if rt.Engine != nil {
		if err := rt.Engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transcode engine: %w", err))
		}
	}
	if rt.probeCache != nil {
		if err := rt.probeCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("probe cache: %w", err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
