// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// manifestSegments returns the segment URIs listed in an HLS playlist.
func manifestSegments(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// manifestReady reports whether the playlist at path exists and lists at
// least one segment.
func manifestReady(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return len(manifestSegments(data)) > 0
}

// watchManifest closes the returned channel once manifestReady(manifest)
// holds. Directory events from fsnotify trigger checks; a ticker covers
// filesystems where inotify is unavailable or lossy. The goroutine exits when
// ctx is done; stopped is closed after it has released the watcher.
func watchManifest(ctx context.Context, dir, manifest string, poll time.Duration, logger zerolog.Logger) (ready, stopped <-chan struct{}) {
	readyCh := make(chan struct{})
	stoppedCh := make(chan struct{})
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	go func() {
		defer close(stoppedCh)

		var events <-chan fsnotify.Event
		var errs <-chan error
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if addErr := w.Add(dir); addErr != nil {
				_ = w.Close()
				err = addErr
			} else {
				defer w.Close()
				events, errs = w.Events, w.Errors
			}
		}
		if err != nil {
			logger.Debug().Err(err).Msg("fsnotify unavailable, polling manifest")
		}

		check := func() bool {
			if manifestReady(manifest) {
				close(readyCh)
				return true
			}
			return false
		}
		if check() {
			return
		}

		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
					if check() {
						return
					}
				}
			case werr, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Debug().Err(werr).Msg("manifest watcher error")
			case <-ticker.C:
				if check() {
					return
				}
			}
		}
	}()
	return readyCh, stoppedCh
}
