// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the baseline configuration before file and env overrides.
func Defaults() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxConnections:  512,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
		},
		Auth:   AuthConfig{AllowQueryToken: true},
		FFmpeg: FFmpegConfig{Bin: "ffmpeg"},
		Probe: ProbeConfig{
			Timeout:       5 * time.Second,
			RatePerSecond: 8,
			Burst:         4,
			Cache: ProbeCacheConfig{
				Backend: "memory",
				TTL:     24 * time.Hour,
			},
		},
		Transcode: TranscodeConfig{
			HWAccel:         "none",
			VAAPIDevice:     "/dev/dri/renderD128",
			MaxJobs:         4,
			IdleGrace:       30 * time.Second,
			KillGrace:       5 * time.Second,
			ReadyTimeout:    30 * time.Second,
			JanitorInterval: 5 * time.Second,
			SegmentSeconds:  4,
		},
		Planner: PlannerConfig{DefaultProfile: "720p"},
		Channels: ChannelsConfig{
			AnchorStrategy: AnchorPreserve,
			UpNext:         3,
			RefreshAfter:   30 * time.Second,
		},
		Database: DatabaseConfig{BusyTimeout: 5 * time.Second},
		Telemetry: TelemetryConfig{
			ServiceName:  "loopcast",
			Exporter:     "grpc",
			SamplingRate: 1.0,
		},
	}
}
