// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKind(t *testing.T) {
	cause := errors.New("exit status 1")
	err := E(ErrEncoderCrashed, "transcode.run", "42/720p", cause)

	assert.ErrorIs(t, err, ErrEncoderCrashed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEncoderUnavailable)
	assert.Equal(t, "transcode.run: encoder crashed (42/720p): exit status 1", err.Error())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", E(ErrProbeFailed, "probe", "", nil))
	assert.Equal(t, ErrProbeFailed, KindOf(wrapped))
	assert.Equal(t, ErrChannelNotFound, KindOf(fmt.Errorf("x: %w", ErrChannelNotFound)))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestSourceProbeHelpers(t *testing.T) {
	p := SourceProbe{
		VideoCodec: "h264",
		Width:      1920,
		Height:     1080,
		Duration:   90 * time.Second,
		Subtitles:  []SubtitleStream{{Index: 0, Language: "en"}, {Index: 1, Language: "de"}},
	}
	assert.True(t, p.HasVideo())
	assert.False(t, p.HasAudio())
	assert.Equal(t, "1920x1080", p.Resolution())

	idx, ok := p.SubtitleIndex("de")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = p.SubtitleIndex("fr")
	assert.False(t, ok)

	assert.Equal(t, "", SourceProbe{}.Resolution())
}

func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobStopped.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobReady.Terminal())
}

func TestMediaRef(t *testing.T) {
	assert.Equal(t, "episode-42", MediaRef{Kind: KindEpisode, ID: 42}.String())

	k, ok := ParseMediaKind("")
	assert.True(t, ok)
	assert.Equal(t, KindMovie, k)
	k, ok = ParseMediaKind("extra")
	assert.True(t, ok)
	assert.Equal(t, KindExtra, k)
	_, ok = ParseMediaKind("show")
	assert.False(t, ok)
}
