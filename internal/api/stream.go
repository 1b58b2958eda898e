// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"

	"github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/telemetry"
	"github.com/ManuGH/loopcast/internal/transcode"
)

// defaultThumbnailSeek is used when the source length is unknown.
const defaultThumbnailSeek = 10.0

func mediaRef(r *http.Request) (playback.MediaRef, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return playback.MediaRef{}, badRequest("invalid media id")
	}
	kind, ok := playback.ParseMediaKind(r.URL.Query().Get("type"))
	if !ok {
		return playback.MediaRef{}, badRequest("invalid media type")
	}
	return playback.MediaRef{Kind: kind, ID: id}, nil
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, span := telemetry.StartSpan(r.Context(), "stream.manifest")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String(telemetry.MediaIDKey, ref.String()))

	path, known, err := s.deps.Catalog.Lookup(ctx, ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	probe, err := s.deps.Prober.Probe(ctx, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	platform := q.Get("platform")
	decision := s.deps.Planner.Plan(probe, platform, q.Get("profile"))
	metrics.RecordDecision(string(decision.Mode), decision.Profile, platform, string(decision.Reason))
	span.SetAttributes(attribute.String(telemetry.PlaybackModeKey, string(decision.Mode)))

	logger := log.WithComponentFromContext(ctx, "api.stream")
	logger.Debug().
		Str(log.FieldEvent, "playback.planned").
		Str(log.FieldMediaID, ref.String()).
		Str(log.FieldPlatform, platform).
		Str("mode", string(decision.Mode)).
		Str(log.FieldProfile, decision.Profile).
		Str("reason", string(decision.Reason)).
		Msg("playback planned")

	w.Header().Set("X-Playback-Mode", string(decision.Mode))
	if decision.DirectPlay() {
		w.Header().Set("Content-Type", contentTypeHLSPlaylist)
		w.Header().Set("Cache-Control", "no-cache")
		direct := url.Values{}
		direct.Set("type", string(ref.Kind))
		s.carryToken(q, direct)
		_, _ = w.Write([]byte(directManifest(ref.ID, direct.Encode(), durationSeconds(probe.Duration, known))))
		return
	}

	var opts []transcode.AcquireOption
	if !probe.HasVideo() {
		opts = append(opts, transcode.AudioOnly())
	}
	sess, err := s.deps.Transcoder.Acquire(ctx, ref.String(), path, decision.Profile, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sess.Release()

	manifest, err := sess.Manifest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw, err := os.ReadFile(manifest)
	if err != nil {
		err = playback.E(playback.ErrJobNotFound, "stream.manifest", ref.String(), err)
		s.writeError(w, r, err)
		return
	}

	seg := url.Values{}
	seg.Set("profile", decision.Profile)
	seg.Set("type", string(ref.Kind))
	s.carryToken(q, seg)
	w.Header().Set("Content-Type", contentTypeHLSPlaylist)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(rewriteManifest(raw, seg.Encode()))
}

// carryToken copies a query token into URIs the player follows next, so a
// client that cannot set headers stays authenticated.
func (s *Server) carryToken(from, to url.Values) {
	if t := from.Get("token"); t != "" && s.opts.AllowQueryToken {
		to.Set("token", t)
	}
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "num"))
	if err != nil || n < 0 {
		s.writeError(w, r, badRequest("invalid segment number"))
		return
	}
	path, err := s.deps.Transcoder.Segment(ref.String(), r.URL.Query().Get("profile"), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := serveFile(w, r, path, contentTypeHLSSegment, "public, max-age=60"); err != nil {
		s.writeError(w, r, playback.E(playback.ErrJobNotFound, "stream.segment", ref.String(), err))
	}
}

// handleDirect streams the source file unmodified. Range requests are
// handled by http.ServeContent. The start query value is a hint for
// players and is not interpreted here.
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, _, err := s.deps.Catalog.Lookup(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := serveFile(w, r, path, contentTypeFor(path), ""); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = playback.E(playback.ErrMediaNotFound, "stream.direct", ref.String(), err)
		}
		s.writeError(w, r, err)
	}
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	want, err := language.Parse(chi.URLParam(r, "lang"))
	if err != nil {
		s.writeError(w, r, badRequest("invalid language tag"))
		return
	}
	base, _ := want.Base()

	path, _, err := s.deps.Catalog.Lookup(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	probe, err := s.deps.Prober.Probe(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	track, ok := subtitleTrack(probe, base)
	if !ok {
		s.writeError(w, r, playback.E(playback.ErrSubtitleUnavailable, "stream.subtitle", ref.String(),
			errors.New("no "+base.String()+" subtitle stream")))
		return
	}
	vtt, err := s.deps.Transcoder.ExtractSubtitleTrack(r.Context(), ref.String(), path, track, base.String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := serveFile(w, r, vtt, contentTypeVTT, "public, max-age=3600"); err != nil {
		s.writeError(w, r, err)
	}
}

// subtitleTrack finds the first text subtitle stream whose language has the
// requested base. Stream tags are usually ISO 639-2 ("eng"), requests are
// usually BCP 47 ("en", "en-US"); both reduce to the same base.
func subtitleTrack(probe playback.SourceProbe, want language.Base) (int, bool) {
	for _, st := range probe.Subtitles {
		tag, err := language.Parse(strings.TrimSpace(st.Language))
		if err != nil {
			continue
		}
		if b, _ := tag.Base(); b == want {
			return st.Index, true
		}
	}
	return 0, false
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, known, err := s.deps.Catalog.Lookup(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	seek := defaultThumbnailSeek
	if probe, err := s.deps.Prober.Probe(r.Context(), path); err == nil && probe.Duration > 0 {
		seek = (probe.Duration / 10).Seconds()
	} else if known > 0 {
		seek = (known / 10).Seconds()
	}
	img, err := s.deps.Transcoder.GenerateThumbnail(r.Context(), ref.String(), path, seek)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := serveFile(w, r, img, contentTypeJPEG, "public, max-age=86400"); err != nil {
		s.writeError(w, r, err)
	}
}

func (s *Server) handleStopTranscode(w http.ResponseWriter, r *http.Request) {
	ref, err := mediaRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Transcoder.Stop(ref.String(), r.URL.Query().Get("profile")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.deps.Transcoder.Jobs(r.Context())})
}

// serveFile streams path with Range support.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType, cacheControl string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	http.ServeContent(w, r, "", fi.ModTime().Truncate(time.Second), f)
	return nil
}
