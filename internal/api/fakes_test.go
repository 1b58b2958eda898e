// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/auth"
	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/config"
	"github.com/ManuGH/loopcast/internal/planner"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/transcode"
)

const (
	aliceToken = "alice-token-0123456789"
	bobToken   = "bob-token-0123456789"
)

type catalogEntry struct {
	path string
	dur  time.Duration
}

type fakeCatalog map[playback.MediaRef]catalogEntry

func (c fakeCatalog) Lookup(_ context.Context, ref playback.MediaRef) (string, time.Duration, error) {
	e, ok := c[ref]
	if !ok {
		return "", 0, playback.E(playback.ErrMediaNotFound, "catalog.lookup", ref.String(), nil)
	}
	return e.path, e.dur, nil
}

type probeResult struct {
	probe playback.SourceProbe
	err   error
}

type fakeProber map[string]probeResult

func (p fakeProber) Probe(_ context.Context, path string) (playback.SourceProbe, error) {
	r, ok := p[path]
	if !ok {
		return playback.SourceProbe{}, playback.E(playback.ErrProbeFailed, "probe", path, errors.New("no such file"))
	}
	return r.probe, r.err
}

type fakeSession struct {
	manifest string
	released *int
	mu       *sync.Mutex
}

func (s fakeSession) Manifest() (string, error) { return s.manifest, nil }

func (s fakeSession) Release() {
	s.mu.Lock()
	*s.released++
	s.mu.Unlock()
}

type acquireCall struct {
	mediaID, path, profile string
}

type fakeTranscoder struct {
	dir        string
	acquireErr error
	auxErr     error

	mu        sync.Mutex
	acquires  []acquireCall
	audioOnly []bool
	released  int
	stopped  []string
	subs     []string
	seeks    []float64
}

func newFakeTranscoder(t *testing.T) *fakeTranscoder {
	return &fakeTranscoder{dir: t.TempDir()}
}

// jobDir mirrors the engine layout closely enough for the handlers.
func (f *fakeTranscoder) jobDir(mediaID, profile string) string {
	return filepath.Join(f.dir, mediaID, profile)
}

func (f *fakeTranscoder) Acquire(_ context.Context, mediaID, path, profile string, opts ...transcode.AcquireOption) (Session, error) {
	var ao transcode.AcquireOptions
	for _, o := range opts {
		o(&ao)
	}
	f.mu.Lock()
	f.acquires = append(f.acquires, acquireCall{mediaID, path, profile})
	f.audioOnly = append(f.audioOnly, ao.AudioOnly)
	f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	dir := f.jobDir(mediaID, profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	manifest := filepath.Join(dir, "manifest.m3u8")
	body := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.000000,\nsegment0.ts\n#EXTINF:4.000000,\nsegment1.ts\n"
	if err := os.WriteFile(manifest, []byte(body), 0o644); err != nil {
		return nil, err
	}
	for _, n := range []string{"segment0.ts", "segment1.ts"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("TS-"+n), 0o644); err != nil {
			return nil, err
		}
	}
	return fakeSession{manifest: manifest, released: &f.released, mu: &f.mu}, nil
}

func (f *fakeTranscoder) Segment(mediaID, profile string, n int) (string, error) {
	if profile == "" {
		profile = "720p"
	}
	path := filepath.Join(f.jobDir(mediaID, profile), transcode.SegmentName(n))
	if _, err := os.Stat(path); err != nil {
		return "", playback.E(playback.ErrJobNotFound, "transcode.segment", mediaID, err)
	}
	return path, nil
}

func (f *fakeTranscoder) Stop(mediaID, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.acquires {
		if a.mediaID == mediaID && (profile == "" || a.profile == profile) {
			f.stopped = append(f.stopped, mediaID)
			return nil
		}
	}
	return playback.E(playback.ErrJobNotFound, "transcode.stop", mediaID, nil)
}

func (f *fakeTranscoder) ExtractSubtitleTrack(_ context.Context, mediaID, _ string, track int, lang string) (string, error) {
	if f.auxErr != nil {
		return "", f.auxErr
	}
	f.mu.Lock()
	f.subs = append(f.subs, lang)
	f.mu.Unlock()
	out := filepath.Join(f.dir, mediaID, "subtitle_"+lang+".vtt")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, []byte("WEBVTT\n\n00:00.000 --> 00:01.000\ntrack "+string(rune('0'+track))+"\n"), 0o644)
}

func (f *fakeTranscoder) GenerateThumbnail(_ context.Context, mediaID, _ string, seek float64) (string, error) {
	if f.auxErr != nil {
		return "", f.auxErr
	}
	f.mu.Lock()
	f.seeks = append(f.seeks, seek)
	f.mu.Unlock()
	out := filepath.Join(f.dir, mediaID, "thumbnail.jpg")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o644)
}

func (f *fakeTranscoder) Jobs(context.Context) []transcode.JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transcode.JobInfo, 0, len(f.acquires))
	for _, a := range f.acquires {
		out = append(out, transcode.JobInfo{MediaID: a.mediaID, Profile: a.profile, State: playback.JobReady})
	}
	return out
}

type fakeChannels struct {
	mu          sync.Mutex
	byID        map[int64]*channels.Channel
	regenerated []int64
}

func newFakeChannels(chs ...*channels.Channel) *fakeChannels {
	f := &fakeChannels{byID: map[int64]*channels.Channel{}}
	for _, ch := range chs {
		f.byID[ch.ID] = ch
	}
	return f
}

func (f *fakeChannels) Get(_ context.Context, id int64) (*channels.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.byID[id]
	if !ok {
		return nil, playback.E(playback.ErrChannelNotFound, "channels.get", "", nil)
	}
	return ch, nil
}

func (f *fakeChannels) List(_ context.Context, owner string) ([]channels.Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []channels.Meta
	for _, ch := range f.byID {
		if ch.OwnerID == owner {
			out = append(out, ch.Meta)
		}
	}
	return out, nil
}

func (f *fakeChannels) Regenerate(_ context.Context, id int64) (*channels.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.byID[id]
	if !ok {
		return nil, playback.E(playback.ErrChannelNotFound, "channels.regenerate", "", nil)
	}
	f.regenerated = append(f.regenerated, id)
	next, err := channels.Build(ch.Meta, ch.Entries(), ch.Anchor, ch.Version+1)
	if err != nil {
		return nil, err
	}
	f.byID[id] = next
	return next, nil
}

var testAnchor = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func mustChannel(t *testing.T, meta channels.Meta, entries ...channels.Entry) *channels.Channel {
	t.Helper()
	ch, err := channels.Build(meta, entries, testAnchor, 1)
	require.NoError(t, err)
	return ch
}

type testEnv struct {
	srv        *Server
	handler    http.Handler
	catalog    fakeCatalog
	prober     fakeProber
	transcoder *fakeTranscoder
	channels   *fakeChannels
	now        time.Time
	mediaDir   string
}

func newTestEnv(t *testing.T, chs ...*channels.Channel) *testEnv {
	t.Helper()
	env := &testEnv{
		catalog:    fakeCatalog{},
		prober:     fakeProber{},
		transcoder: newFakeTranscoder(t),
		channels:   newFakeChannels(chs...),
		now:        testAnchor,
		mediaDir:   t.TempDir(),
	}
	validator := auth.NewValidator([]config.TokenConfig{
		{Token: aliceToken, User: "alice"},
		{Token: bobToken, User: "bob"},
	})
	env.srv = New(Deps{
		Catalog:    env.catalog,
		Prober:     env.prober,
		Planner:    planner.New(nil, "720p"),
		Transcoder: env.transcoder,
		Channels:   env.channels,
		Auth:       validator,
	}, Options{
		UpNext:          3,
		AllowQueryToken: true,
		Now:             func() time.Time { return env.now },
	})
	env.handler = env.srv.Handler()
	return env
}

// addMedia registers a file on disk, in the catalog and in the prober.
func (e *testEnv) addMedia(t *testing.T, ref playback.MediaRef, name string, body []byte, probe playback.SourceProbe, probeErr error) string {
	t.Helper()
	path := filepath.Join(e.mediaDir, name)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	e.catalog[ref] = catalogEntry{path: path, dur: probe.Duration}
	e.prober[path] = probeResult{probe: probe, err: probeErr}
	return path
}

func (e *testEnv) do(t *testing.T, method, target, token string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		r.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}
