// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP boundary: stream delivery, channel queries and
// operational endpoints.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ManuGH/loopcast/internal/api/middleware"
	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/transcode"
)

// Catalog resolves media references to files.
type Catalog interface {
	Lookup(ctx context.Context, ref playback.MediaRef) (path string, knownDuration time.Duration, err error)
}

// Prober inspects a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (playback.SourceProbe, error)
}

// Planner picks the delivery path.
type Planner interface {
	Plan(probe playback.SourceProbe, platform, requestedProfile string) playback.Decision
}

// Session is a viewer's hold on a ready transcode job.
type Session interface {
	Manifest() (string, error)
	Release()
}

// Transcoder runs and serves transcode jobs.
type Transcoder interface {
	Acquire(ctx context.Context, mediaID, sourcePath, profile string, opts ...transcode.AcquireOption) (Session, error)
	Segment(mediaID, profile string, n int) (string, error)
	Stop(mediaID, profile string) error
	ExtractSubtitleTrack(ctx context.Context, mediaID, path string, trackIndex int, language string) (string, error)
	GenerateThumbnail(ctx context.Context, mediaID, path string, seekSeconds float64) (string, error)
	Jobs(ctx context.Context) []transcode.JobInfo
}

// Channels serves channel snapshots.
type Channels interface {
	Get(ctx context.Context, id int64) (*channels.Channel, error)
	List(ctx context.Context, ownerID string) ([]channels.Meta, error)
	Regenerate(ctx context.Context, id int64) (*channels.Channel, error)
}

// Authenticator maps a bearer token to a user id.
type Authenticator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// Check is one readiness probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Catalog    Catalog
	Prober     Prober
	Planner    Planner
	Transcoder Transcoder
	Channels   Channels
	Auth       Authenticator
	Checks     []Check
	Metrics    http.Handler // served at /metrics when set
}

// Options tune handler behavior.
type Options struct {
	UpNext          int
	AllowQueryToken bool
	Stack           middleware.StackConfig
	Now             func() time.Time
}

// Server owns the router and its dependencies.
type Server struct {
	deps   Deps
	opts   Options
	now    func() time.Time
	upNext atomic.Int64
	ready  atomic.Bool
}

// New builds a Server. Readiness starts false; call SetReady once the
// daemon has finished starting.
func New(deps Deps, opts Options) *Server {
	s := &Server{deps: deps, opts: opts, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	s.SetUpNext(opts.UpNext)
	return s
}

// SetUpNext changes how many upcoming items now-playing returns.
func (s *Server) SetUpNext(n int) {
	if n < 0 {
		n = 0
	}
	s.upNext.Store(int64(n))
}

// SetReady flips the readiness gate.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

// engineTranscoder narrows *transcode.Engine's handle type to Session.
type engineTranscoder struct {
	*transcode.Engine
}

func (t engineTranscoder) Acquire(ctx context.Context, mediaID, sourcePath, profile string, opts ...transcode.AcquireOption) (Session, error) {
	h, err := t.Engine.Acquire(ctx, mediaID, sourcePath, profile, opts...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// EngineTranscoder adapts a transcode engine to Transcoder.
func EngineTranscoder(e *transcode.Engine) Transcoder {
	return engineTranscoder{Engine: e}
}
