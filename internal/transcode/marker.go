// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const markerName = "job.json"

// marker identifies the engine instance that owns a job directory.
type marker struct {
	Instance   string    `json:"instance"`
	Generation string    `json:"generation"`
	MediaID    string    `json:"media_id"`
	Profile    string    `json:"profile"`
	HWAccel    string    `json:"hwaccel,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

func writeMarker(dir string, m marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, markerName), data, 0o644)
}

func readMarker(dir string) (marker, error) {
	var m marker
	data, err := os.ReadFile(filepath.Join(dir, markerName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", markerName, err)
	}
	return m, nil
}

// sweepStale removes job directories under root whose marker belongs to
// another engine instance. Directories without a marker are left alone.
func sweepStale(root, instance string, logger zerolog.Logger) (int, error) {
	var stale []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != markerName {
			return nil
		}
		dir := filepath.Dir(path)
		m, rerr := readMarker(dir)
		if rerr != nil || m.Instance != instance {
			stale = append(stale, dir)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove stale job directory")
			continue
		}
		removed++
		_ = os.Remove(filepath.Dir(dir)) // media dir, only if now empty
	}
	return removed, nil
}
