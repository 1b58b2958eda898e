// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ManuGH/loopcast/internal/api/problem"
	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/playback"
)

// retryAfterSeconds is advertised when the encoder pool is saturated.
const retryAfterSeconds = 5

type problemKind struct {
	status int
	typ    string
	title  string
	code   string
}

var (
	errBadRequest = errors.New("bad request")

	kindInternal = problemKind{http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL"}

	problemKinds = map[error]problemKind{
		playback.ErrProbeFailed:         {http.StatusUnprocessableEntity, "stream/probe_failed", "Probe Failed", "PROBE_FAILED"},
		playback.ErrUnsupportedSource:   {http.StatusUnsupportedMediaType, "stream/unsupported_source", "Unsupported Source", "UNSUPPORTED_SOURCE"},
		playback.ErrEncoderUnavailable:  {http.StatusServiceUnavailable, "stream/encoder_unavailable", "Encoder Unavailable", "ENCODER_UNAVAILABLE"},
		playback.ErrEncoderCrashed:      {http.StatusBadGateway, "stream/encoder_crashed", "Encoder Crashed", "ENCODER_CRASHED"},
		playback.ErrDiskWrite:           {http.StatusInsufficientStorage, "stream/disk_write", "Disk Write Error", "DISK_WRITE"},
		playback.ErrChannelNotFound:     {http.StatusNotFound, "channels/not_found", "Channel Not Found", "CHANNEL_NOT_FOUND"},
		playback.ErrJobNotFound:         {http.StatusNotFound, "stream/job_not_found", "Job Not Found", "JOB_NOT_FOUND"},
		playback.ErrMediaNotFound:       {http.StatusNotFound, "stream/media_not_found", "Media Not Found", "MEDIA_NOT_FOUND"},
		playback.ErrSubtitleUnavailable: {http.StatusNotFound, "stream/subtitle_unavailable", "Subtitle Unavailable", "SUBTITLE_UNAVAILABLE"},
		playback.ErrInvalidSchedule:     {http.StatusUnprocessableEntity, "channels/invalid_schedule", "Invalid Schedule", "INVALID_SCHEDULE"},
		playback.ErrUnauthorized:        {http.StatusUnauthorized, "auth/unauthorized", "Unauthorized", "UNAUTHORIZED"},
		playback.ErrForbidden:           {http.StatusForbidden, "auth/forbidden", "Forbidden", "FORBIDDEN"},
		channels.ErrVersionConflict:     {http.StatusConflict, "channels/version_conflict", "Version Conflict", "VERSION_CONFLICT"},
		errBadRequest:                   {http.StatusBadRequest, "system/bad_request", "Bad Request", "BAD_REQUEST"},
	}
)

func kindFor(err error) problemKind {
	if k := playback.KindOf(err); k != nil {
		if pk, ok := problemKinds[k]; ok {
			return pk
		}
	}
	for sentinel, pk := range problemKinds {
		if errors.Is(err, sentinel) {
			return pk
		}
	}
	return kindInternal
}

// writeError maps err onto a problem response. Server-side failures are
// logged with the request's context fields; client errors are not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nothing useful to write
		return
	}
	pk := kindFor(err)
	if pk.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	detail := err.Error()
	if pk.status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "request.failed").
			Int("status", pk.status).
			Str("path", r.URL.Path).
			Msg("request failed")
		if pk == kindInternal {
			detail = ""
		}
	}
	problem.Write(w, r, pk.status, pk.typ, pk.title, pk.code, detail, nil)
}

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string        { return e.msg }
func (e *badRequestError) Is(target error) bool { return target == errBadRequest }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
