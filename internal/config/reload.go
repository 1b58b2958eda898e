// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/loopcast/internal/log"
)

const reloadDebounce = 500 * time.Millisecond

// Holder owns the live configuration and swaps it atomically on reload.
// Consumers either call Get per use or register a listener channel.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

// NewHolder creates a holder around an already validated initial config.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  xglog.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates a new configuration. On failure the current one
// stays in place.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("failed to load new configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(prev, next)
	h.notify(next)

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded")
	return nil
}

// RegisterListener subscribes ch to successful reloads. Sends never block;
// a full channel misses that update.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// StartWatcher reloads on writes to the config file until ctx ends. Without a
// config file it does nothing.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str("event", "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which drops a file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().Str("event", "config.watcher_started").Str(xglog.FieldPath, path).Msg("watching config file")
	go h.watchLoop(ctx, watcher, filepath.Clean(path))
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic config reload failed")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

func (h *Holder) logChanges(prev, next Config) {
	if prev.LogLevel != next.LogLevel {
		h.logger.Info().Str("old", prev.LogLevel).Str("new", next.LogLevel).Msg("config changed: LogLevel")
	}
	if prev.Channels.AnchorStrategy != next.Channels.AnchorStrategy {
		h.logger.Info().Str("old", prev.Channels.AnchorStrategy).Str("new", next.Channels.AnchorStrategy).Msg("config changed: Channels.AnchorStrategy")
	}
	if prev.Transcode.MaxJobs != next.Transcode.MaxJobs {
		h.logger.Info().Int("old", prev.Transcode.MaxJobs).Int("new", next.Transcode.MaxJobs).Msg("config changed: Transcode.MaxJobs (restart required)")
	}
	if prev.Server.ListenAddr != next.Server.ListenAddr {
		h.logger.Warn().Str("old", prev.Server.ListenAddr).Str("new", next.Server.ListenAddr).Msg("config changed: Server.ListenAddr (restart required)")
	}
}
