// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/loopcast/internal/config"
	"github.com/ManuGH/loopcast/internal/daemon"
	xglog "github.com/ManuGH/loopcast/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		case "storage":
			os.Exit(runStorageCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{Level: "info", Service: "loopcast", Version: version})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Explicit --config wins; otherwise ${LOOPCAST_DATA_DIR}/config.yaml is
	// picked up when it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: cfg.Telemetry.ServiceName, Version: cfg.Version})
	logger = xglog.WithComponent("daemon")
	if effectiveConfigPath != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", effectiveConfigPath).Msg("loaded configuration from file")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("starting loopcast")

	rt, err := daemon.Bootstrap(ctx, cfg, daemon.Runners{})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "startup.bootstrap_failed").Msg("failed to assemble runtime")
	}

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:      logger,
		Handler:     rt.Handler,
		OnListening: func(net.Addr) { rt.Server.SetReady(true) },
	})
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Fatal().Err(err).Str("event", "manager.creation.failed").Msg("failed to create daemon manager")
	}
	mgr.RegisterShutdownHook("runtime", rt.Close)

	holder := config.NewHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "manager.failed").Msg("daemon app failed")
		os.Exit(1)
	}
	logger.Info().Msg("server exiting")
}
