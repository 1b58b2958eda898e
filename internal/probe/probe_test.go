// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/cache"
	"github.com/ManuGH/loopcast/internal/playback"
)

const mkvFixture = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "ac3"},
    {"codec_type": "subtitle", "codec_name": "hdmv_pgs_subtitle", "tags": {"language": "ger"}},
    {"codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "ENG"}}
  ],
  "format": {"format_name": "matroska,webm", "duration": "5400.250000", "bit_rate": "8000000"}
}`

type fakeRunner struct {
	out   []byte
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.out, f.err
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("not really a movie"), 0o600))
	return path
}

func TestParse(t *testing.T) {
	got, err := Parse([]byte(mkvFixture))
	require.NoError(t, err)

	want := playback.SourceProbe{
		Container:  "matroska",
		VideoCodec: "h264",
		AudioCodec: "ac3",
		Width:      1920,
		Height:     1080,
		Duration:   5400*time.Second + 250*time.Millisecond,
		Bitrate:    8_000_000,
		Subtitles:  []playback.SubtitleStream{{Index: 1, Language: "eng", Codec: "subrip"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_AudioOnlyAndCoverArt(t *testing.T) {
	got, err := Parse([]byte(`{"streams":[{"codec_type":"video","codec_name":"mjpeg"},{"codec_type":"audio","codec_name":"flac"}],"format":{"format_name":"flac","duration":"200"}}`))
	require.NoError(t, err)
	assert.False(t, got.HasVideo())
	assert.Equal(t, "flac", got.AudioCodec)
	assert.Equal(t, 200*time.Second, got.Duration)
}

func TestParse_NoStreams(t *testing.T) {
	_, err := Parse([]byte(`{"streams":[{"codec_type":"data"}],"format":{"format_name":"mpegts"}}`))
	assert.ErrorIs(t, err, errNoStreams)
}

func TestService_CachesPerFileVersion(t *testing.T) {
	path := writeSource(t)
	runner := &fakeRunner{out: []byte(mkvFixture)}
	store := cache.NewMemory(0)
	svc := New(runner, store, Options{})

	p1, err := svc.Probe(context.Background(), path)
	require.NoError(t, err)
	p2, err := svc.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, int32(1), runner.calls.Load())

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = svc.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestService_Errors(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		path   func(t *testing.T) string
		kind   error
	}{
		{
			name:   "missing file",
			runner: &fakeRunner{},
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.mkv") },
			kind:   playback.ErrProbeFailed,
		},
		{
			name:   "spawn failure",
			runner: &fakeRunner{err: errors.New("exec: not found")},
			path:   writeSource,
			kind:   playback.ErrProbeFailed,
		},
		{
			name:   "bad json",
			runner: &fakeRunner{out: []byte("{")},
			path:   writeSource,
			kind:   playback.ErrProbeFailed,
		},
		{
			name:   "no streams",
			runner: &fakeRunner{out: []byte(`{"streams":[],"format":{"format_name":"mp4"}}`)},
			path:   writeSource,
			kind:   playback.ErrUnsupportedSource,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(tt.runner, nil, Options{})
			_, err := svc.Probe(context.Background(), tt.path(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestService_FailuresAreNotCached(t *testing.T) {
	path := writeSource(t)
	runner := &fakeRunner{err: errors.New("boom")}
	svc := New(runner, cache.NewMemory(0), Options{})

	_, err := svc.Probe(context.Background(), path)
	require.Error(t, err)

	runner.err = nil
	runner.out = []byte(mkvFixture)
	_, err = svc.Probe(context.Background(), path)
	require.NoError(t, err)
}

func TestService_Timeout(t *testing.T) {
	path := writeSource(t)
	runner := &fakeRunner{out: []byte(mkvFixture), gate: make(chan struct{})}
	svc := New(runner, nil, Options{Timeout: 20 * time.Millisecond})

	_, err := svc.Probe(context.Background(), path)
	assert.ErrorIs(t, err, playback.ErrProbeFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_ConcurrentProbesShareOneRun(t *testing.T) {
	path := writeSource(t)
	runner := &fakeRunner{out: []byte(mkvFixture), gate: make(chan struct{})}
	svc := New(runner, cache.NewMemory(0), Options{RatePerSecond: 1000, Burst: 100})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Probe(context.Background(), path)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(runner.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), runner.calls.Load())
}

type brokenStore struct{ cache.Store }

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenStore) Name() string { return cache.BackendRedis }

func TestService_CacheErrorsDegradeToMiss(t *testing.T) {
	path := writeSource(t)
	runner := &fakeRunner{out: []byte(mkvFixture)}
	svc := New(runner, brokenStore{}, Options{})

	p, err := svc.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "h264", p.VideoCodec)
}

func TestKey(t *testing.T) {
	now := time.Now()
	assert.Equal(t, Key("/a", now, 1), Key("/a", now, 1))
	assert.NotEqual(t, Key("/a", now, 1), Key("/a", now, 2))
	assert.NotEqual(t, Key("/a", now, 1), Key("/a", now.Add(time.Second), 1))
	assert.NotEqual(t, Key("/a", now, 1), Key("/b", now, 1))
}
