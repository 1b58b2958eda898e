// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by the loader.
const (
	EnvDataDir        = "LOOPCAST_DATA_DIR"
	EnvLogLevel       = "LOOPCAST_LOG_LEVEL"
	EnvListenAddr     = "LOOPCAST_LISTEN"
	EnvAPIToken       = "LOOPCAST_API_TOKEN"
	EnvFFmpegBin      = "LOOPCAST_FFMPEG_BIN"
	EnvFFprobeBin     = "LOOPCAST_FFPROBE_BIN"
	EnvOutputRoot     = "LOOPCAST_OUTPUT_ROOT"
	EnvHWAccel        = "LOOPCAST_HWACCEL"
	EnvVAAPIDevice    = "LOOPCAST_VAAPI_DEVICE"
	EnvMaxJobs        = "LOOPCAST_MAX_JOBS"
	EnvIdleGrace      = "LOOPCAST_IDLE_GRACE"
	EnvProbeTimeout   = "LOOPCAST_PROBE_TIMEOUT"
	EnvProbeCache     = "LOOPCAST_PROBE_CACHE"
	EnvRedisAddr      = "LOOPCAST_REDIS_ADDR"
	EnvDatabasePath   = "LOOPCAST_DB_PATH"
	EnvAnchorStrategy = "LOOPCAST_ANCHOR_STRATEGY"
	EnvRateLimitRPM   = "LOOPCAST_RATE_LIMIT_RPM"
	EnvMaxLoadPerCore = "LOOPCAST_MAX_LOAD_PER_CORE"
	EnvTracing        = "LOOPCAST_TRACING_ENABLED"
	EnvOTLPEndpoint   = "LOOPCAST_OTLP_ENDPOINT"
)

// apiTokenUser is the identity bound to a token supplied through EnvAPIToken.
const apiTokenUser = "admin"

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path, if any.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Load resolves defaults, the YAML file and the environment, in that order,
// then validates the result.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	resolvePaths(&cfg)
	cfg.FFmpeg.FFprobeBin = ResolveFFprobeBin(cfg.FFmpeg.FFprobeBin, cfg.FFmpeg.Bin)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.DataDir = l.envString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.Server.ListenAddr = l.envString(EnvListenAddr, cfg.Server.ListenAddr)
	cfg.Server.RateLimit.RequestsPerMinute = l.envInt(EnvRateLimitRPM, cfg.Server.RateLimit.RequestsPerMinute)

	if token := l.envString(EnvAPIToken, ""); token != "" {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenConfig{Token: token, User: apiTokenUser})
	}

	cfg.FFmpeg.Bin = l.envString(EnvFFmpegBin, cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = l.envString(EnvFFprobeBin, cfg.FFmpeg.FFprobeBin)

	cfg.Transcode.OutputRoot = l.envString(EnvOutputRoot, cfg.Transcode.OutputRoot)
	cfg.Transcode.HWAccel = strings.ToLower(l.envString(EnvHWAccel, cfg.Transcode.HWAccel))
	cfg.Transcode.VAAPIDevice = l.envString(EnvVAAPIDevice, cfg.Transcode.VAAPIDevice)
	cfg.Transcode.MaxJobs = l.envInt(EnvMaxJobs, cfg.Transcode.MaxJobs)
	cfg.Transcode.IdleGrace = l.envDuration(EnvIdleGrace, cfg.Transcode.IdleGrace)
	cfg.Admission.MaxLoadPerCore = l.envFloat(EnvMaxLoadPerCore, cfg.Admission.MaxLoadPerCore)

	cfg.Probe.Timeout = l.envDuration(EnvProbeTimeout, cfg.Probe.Timeout)
	cfg.Probe.Cache.Backend = strings.ToLower(l.envString(EnvProbeCache, cfg.Probe.Cache.Backend))
	cfg.Probe.Cache.RedisAddr = l.envString(EnvRedisAddr, cfg.Probe.Cache.RedisAddr)

	cfg.Database.Path = l.envString(EnvDatabasePath, cfg.Database.Path)
	cfg.Channels.AnchorStrategy = strings.ToLower(l.envString(EnvAnchorStrategy, cfg.Channels.AnchorStrategy))

	cfg.Telemetry.Enabled = l.envBool(EnvTracing, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)
}

// resolvePaths fills data-dir relative defaults that were left empty.
func resolvePaths(cfg *Config) {
	if cfg.Transcode.OutputRoot == "" {
		cfg.Transcode.OutputRoot = filepath.Join(cfg.DataDir, "transcode")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "loopcast.db")
	}
	if cfg.Probe.Cache.Backend == "badger" && cfg.Probe.Cache.BadgerDir == "" {
		cfg.Probe.Cache.BadgerDir = filepath.Join(cfg.DataDir, "probe-cache")
	}
}
