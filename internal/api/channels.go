// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/telemetry"
)

const (
	defaultScheduleLimit = 50
	maxScheduleLimit     = 100
)

type channelSummary struct {
	channels.Meta
	Version       uint64    `json:"version"`
	Anchor        time.Time `json:"anchor"`
	ItemCount     int       `json:"item_count"`
	TotalDuration int64     `json:"total_duration"` // seconds
}

type itemView struct {
	Position    int                `json:"position"`
	MediaID     int64              `json:"media_id"`
	MediaType   playback.MediaKind `json:"media_type"`
	Title       string             `json:"title,omitempty"`
	Duration    int64              `json:"duration"`     // seconds
	StartOffset int64              `json:"start_offset"` // seconds into the cycle
	StartsAt    *time.Time         `json:"starts_at,omitempty"`
}

type nowPlayingView struct {
	Channel    channels.Meta `json:"channel"`
	NowPlaying *itemView     `json:"now_playing"`
	Elapsed    int64         `json:"elapsed"` // seconds into NowPlaying
	UpNext     []itemView    `json:"up_next"`
	CycleStart time.Time     `json:"cycle_start"`
	StreamURL  string        `json:"stream_url,omitempty"`
}

func summarize(ch *channels.Channel) channelSummary {
	return channelSummary{
		Meta:          ch.Meta,
		Version:       ch.Version,
		Anchor:        ch.Anchor,
		ItemCount:     len(ch.Items),
		TotalDuration: int64(ch.CycleDuration() / time.Second),
	}
}

func viewItem(it channels.Item) itemView {
	return itemView{
		Position:    it.Position,
		MediaID:     it.MediaID,
		MediaType:   it.MediaType,
		Title:       it.Title,
		Duration:    int64(it.Duration / time.Second),
		StartOffset: int64(it.CumulativeStart / time.Second),
	}
}

// streamURL points a channel viewer at the direct route, seeked to the
// current offset.
func streamURL(it channels.Item, elapsed time.Duration) string {
	return "/api/stream/" + strconv.FormatInt(it.MediaID, 10) +
		"/direct?type=" + string(it.MediaType) +
		"&start=" + strconv.FormatInt(int64(elapsed/time.Second), 10)
}

func channelID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid channel id")
	}
	return id, nil
}

// ownedChannel loads a channel and checks it belongs to the caller.
func (s *Server) ownedChannel(r *http.Request) (*channels.Channel, error) {
	id, err := channelID(r)
	if err != nil {
		return nil, err
	}
	ch, err := s.deps.Channels.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userFrom(r.Context()) {
		return nil, playback.E(playback.ErrForbidden, "channels.get", strconv.FormatInt(id, 10), nil)
	}
	return ch, nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	metas, err := s.deps.Channels.List(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if metas == nil {
		metas = []channels.Meta{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": metas})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.ownedChannel(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(ch))
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	ch, err := s.ownedChannel(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_, span := telemetry.StartSpan(r.Context(), "channels.now_playing",
		trace.WithAttributes(telemetry.ChannelAttributes(ch.ID, ch.Version)...))
	ph := channels.NowPlaying(ch, s.now(), int(s.upNext.Load()))
	span.End()
	metrics.IncNowPlaying(ph.NowPlaying == nil)

	resp := nowPlayingView{
		Channel:    ch.Meta,
		UpNext:     make([]itemView, 0, len(ph.UpNext)),
		CycleStart: ph.CycleStart,
	}
	if cur := ph.NowPlaying; cur != nil {
		v := viewItem(*cur)
		started := ph.CycleStart.Add(cur.CumulativeStart)
		v.StartsAt = &started
		resp.NowPlaying = &v
		resp.Elapsed = int64(ph.Elapsed / time.Second)
		resp.StreamURL = streamURL(*cur, ph.Elapsed)

		next := started.Add(cur.Duration)
		for _, it := range ph.UpNext {
			iv := viewItem(it)
			at := next
			iv.StartsAt = &at
			resp.UpNext = append(resp.UpNext, iv)
			next = next.Add(it.Duration)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ch, err := s.ownedChannel(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page := channels.Page(ch, limit, offset)
	items := make([]itemView, 0, len(page))
	for _, it := range page {
		items = append(items, viewItem(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  len(ch.Items),
		"limit":  limit,
		"offset": offset,
	})
}

// pageParams reads limit and offset. limit defaults to 50 and is clamped to
// 100; negative or non-numeric values are rejected.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultScheduleLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, badRequest("invalid limit")
		}
	}
	if limit > maxScheduleLimit {
		limit = maxScheduleLimit
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, badRequest("invalid offset")
		}
	}
	return limit, offset, nil
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	ch, err := s.ownedChannel(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := s.deps.Channels.Regenerate(r.Context(), ch.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api.channels")
	logger.Info().
		Str(log.FieldEvent, "channel.regenerated").
		Int64(log.FieldChannelID, next.ID).
		Uint64("version", next.Version).
		Int("items", len(next.Items)).
		Msg("channel schedule regenerated")
	writeJSON(w, http.StatusOK, summarize(next))
}
