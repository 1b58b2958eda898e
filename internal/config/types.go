// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the daemon configuration.
package config

import "time"

// Anchor strategies applied when a channel's item list is edited.
const (
	AnchorPreserve = "preserve"
	AnchorRebase   = "rebase"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"dataDir" validate:"required"`
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`

	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Probe     ProbeConfig     `yaml:"probe"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Admission AdmissionConfig `yaml:"admission"`
	Planner   PlannerConfig   `yaml:"planner"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	ListenAddr      string          `yaml:"listenAddr" validate:"required"`
	ReadTimeout     time.Duration   `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout" validate:"gte=0"` // 0 disables, needed for long direct-play responses
	IdleTimeout     time.Duration   `yaml:"idleTimeout" validate:"gte=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout" validate:"gt=0"`
	MaxConnections  int             `yaml:"maxConnections" validate:"gte=0"`
	CORSOrigins     []string        `yaml:"corsOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requestsPerMinute" validate:"required_if=Enabled true,gte=0"`
	Whitelist         []string `yaml:"whitelist" validate:"dive,cidr|ip"`
}

type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens" validate:"dive"`
	// AllowQueryToken accepts ?token= for clients that cannot set headers.
	AllowQueryToken bool `yaml:"allowQueryToken"`
}

type TokenConfig struct {
	Token string `yaml:"token" validate:"required,min=16"`
	User  string `yaml:"user" validate:"required"`
}

type FFmpegConfig struct {
	Bin        string `yaml:"bin" validate:"required"`
	FFprobeBin string `yaml:"ffprobeBin"`
}

type ProbeConfig struct {
	Timeout       time.Duration    `yaml:"timeout" validate:"gt=0"`
	RatePerSecond float64          `yaml:"ratePerSecond" validate:"gte=0"`
	Burst         int              `yaml:"burst" validate:"gte=0"`
	Cache         ProbeCacheConfig `yaml:"cache"`
}

type ProbeCacheConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis badger"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	RedisAddr     string        `yaml:"redisAddr" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB" validate:"gte=0"`
	BadgerDir     string        `yaml:"badgerDir"`
}

type TranscodeConfig struct {
	OutputRoot      string        `yaml:"outputRoot"`
	HWAccel         string        `yaml:"hwaccel" validate:"oneof=none videotoolbox nvenc qsv vaapi"`
	VAAPIDevice     string        `yaml:"vaapiDevice"`
	MaxJobs         int           `yaml:"maxJobs" validate:"gte=1"`
	IdleGrace       time.Duration `yaml:"idleGrace" validate:"gt=0"`
	KillGrace       time.Duration `yaml:"killGrace" validate:"gt=0"`
	ReadyTimeout    time.Duration `yaml:"readyTimeout" validate:"gt=0"`
	JanitorInterval time.Duration `yaml:"janitorInterval" validate:"gt=0"`
	SegmentSeconds  int           `yaml:"segmentSeconds" validate:"gte=1,lte=30"`
}

type AdmissionConfig struct {
	MaxLoadPerCore float64 `yaml:"maxLoadPerCore" validate:"gte=0"` // 0 disables the load guard
	MinFreeBytes   uint64  `yaml:"minFreeBytes"`                    // 0 disables the disk guard
}

type PlannerConfig struct {
	DefaultProfile string              `yaml:"defaultProfile" validate:"omitempty,oneof=1080p 720p 480p"`
	Platforms      map[string][]string `yaml:"platforms" validate:"dive,keys,required,endkeys,min=1"`
}

type ChannelsConfig struct {
	AnchorStrategy string        `yaml:"anchorStrategy" validate:"oneof=preserve rebase"`
	UpNext         int           `yaml:"upNext" validate:"gte=0,lte=50"`
	RefreshAfter   time.Duration `yaml:"refreshAfter" validate:"gte=0"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout" validate:"gte=0"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
}
