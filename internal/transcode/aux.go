// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
)

// ExtractSubtitleTrack converts subtitle stream trackIndex of path to WebVTT
// at <root>/<mediaID>/subtitle_<language>.vtt. An existing file is returned
// as is; concurrent calls for the same output share one ffmpeg run.
func (e *Engine) ExtractSubtitleTrack(ctx context.Context, mediaID, path string, trackIndex int, language string) (string, error) {
	if trackIndex < 0 {
		return "", playback.E(playback.ErrSubtitleUnavailable, "transcode.subtitle", mediaID, fmt.Errorf("track %d", trackIndex))
	}
	out := filepath.Join(e.mediaDir(mediaID), "subtitle_"+safeName(language)+".vtt")
	return e.produce(ctx, "subtitle", mediaID, out, func(tmp string) []string {
		return SubtitleArgs(path, trackIndex, tmp)
	})
}

// GenerateThumbnail grabs one frame at seekSeconds into
// <root>/<mediaID>/thumbnail.jpg.
func (e *Engine) GenerateThumbnail(ctx context.Context, mediaID, path string, seekSeconds float64) (string, error) {
	if seekSeconds < 0 {
		seekSeconds = 0
	}
	out := filepath.Join(e.mediaDir(mediaID), "thumbnail.jpg")
	return e.produce(ctx, "thumbnail", mediaID, out, func(tmp string) []string {
		return ThumbnailArgs(path, seekSeconds, tmp)
	})
}

// produce runs a short ffmpeg command into a temporary file and renames it
// into place, so readers never see a partial output.
func (e *Engine) produce(ctx context.Context, kind, mediaID, out string, args func(tmp string) []string) (string, error) {
	logger := xglog.WithComponentFromContext(ctx, "transcode.aux")

	if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
		metrics.IncAux(kind, "cached")
		return out, nil
	}

	v, err, _ := e.aux.Do(out, func() (any, error) {
		if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
			return out, nil
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return "", playback.E(playback.ErrDiskWrite, "transcode."+kind, mediaID, err)
		}
		tmp := out + ".part"
		defer os.Remove(tmp)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.AuxTimeout)
		defer cancel()
		if err := e.runner.Run(runCtx, args(tmp)); err != nil {
			return "", err
		}
		fi, err := os.Stat(tmp)
		if err != nil || fi.Size() == 0 {
			return "", errors.New("ffmpeg produced no output")
		}
		if err := os.Rename(tmp, out); err != nil {
			return "", playback.E(playback.ErrDiskWrite, "transcode."+kind, mediaID, err)
		}
		return out, nil
	})
	if err != nil {
		metrics.IncAux(kind, "error")
		logger.Warn().Err(err).
			Str(xglog.FieldMediaID, mediaID).
			Str("kind", kind).
			Msg("auxiliary extraction failed")
		if kind == "subtitle" && playback.KindOf(err) == nil {
			err = playback.E(playback.ErrSubtitleUnavailable, "transcode.subtitle", mediaID, err)
		}
		return "", err
	}
	metrics.IncAux(kind, "ok")
	return v.(string), nil
}
