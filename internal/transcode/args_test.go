// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/profiles"
)

func TestBuildArgs_Software(t *testing.T) {
	args := BuildArgs(ArgSpec{
		Source:         "/media/movies/Heat (1995).mkv",
		Profile:        profiles.MustLookup(profiles.Profile720p),
		HWAccel:        HWNone,
		SegmentSeconds: 6,
	})

	assert.Equal(t, "/media/movies/Heat (1995).mkv", argValue(args, "-i"))
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "scale=-2:720", argValue(args, "-vf"))
	assert.Equal(t, "fast", argValue(args, "-preset"))
	assert.Equal(t, "4M", argValue(args, "-b:v"))
	assert.Equal(t, "8M", argValue(args, "-bufsize"))
	assert.Equal(t, "128k", argValue(args, "-b:a"))
	assert.Equal(t, "6", argValue(args, "-hls_time"))
	assert.Equal(t, "expr:gte(t,n_forced*6)", argValue(args, "-force_key_frames"))
	assert.Equal(t, "segment%d.ts", argValue(args, "-hls_segment_filename"))
	assert.Equal(t, manifestName, args[len(args)-1])
	assert.NotContains(t, args, "-hwaccel")
}

func TestBuildArgs_AudioOnly(t *testing.T) {
	args := BuildArgs(ArgSpec{
		Source:    "/media/music/album.flac",
		Profile:   profiles.MustLookup(profiles.Profile720p),
		HWAccel:   HWVAAPI,
		AudioOnly: true,
	})

	assert.Equal(t, "0:a:0", argValue(args, "-map"))
	assert.Contains(t, args, "-vn")
	assert.NotContains(t, args, "0:v:0")
	for _, flag := range []string{"-hwaccel", "-vf", "-c:v", "-b:v", "-force_key_frames"} {
		assert.NotContains(t, args, flag)
	}
	assert.Equal(t, "aac", argValue(args, "-c:a"))
	assert.Equal(t, "128k", argValue(args, "-b:a"))
	assert.Equal(t, "hls", argValue(args, "-f"))
	assert.Equal(t, manifestName, args[len(args)-1])
}

func TestBuildArgs_DefaultSegmentLength(t *testing.T) {
	args := BuildArgs(ArgSpec{Source: "in.mkv", Profile: profiles.MustLookup(profiles.Profile480p)})
	assert.Equal(t, "4", argValue(args, "-hls_time"))
	assert.Equal(t, "3000k", argValue(args, "-bufsize"))
}

func TestBuildArgs_Hardware(t *testing.T) {
	p := profiles.MustLookup(profiles.Profile1080p)
	tests := []struct {
		accel   HWAccel
		encoder string
		hwaccel string
		filter  string
	}{
		{HWVAAPI, "h264_vaapi", "vaapi", "scale_vaapi=w=1920:h=1080:force_original_aspect_ratio=decrease"},
		{HWNVENC, "h264_nvenc", "cuda", "scale=-2:1080"},
		{HWQSV, "h264_qsv", "qsv", "scale=-2:1080"},
		{HWVideoToolbox, "h264_videotoolbox", "videotoolbox", "scale=-2:1080"},
	}
	for _, tt := range tests {
		t.Run(string(tt.accel), func(t *testing.T) {
			args := BuildArgs(ArgSpec{Source: "in.mkv", Profile: p, HWAccel: tt.accel, VAAPIDevice: "/dev/dri/renderD128"})
			assert.Equal(t, tt.encoder, argValue(args, "-c:v"))
			assert.Equal(t, tt.hwaccel, argValue(args, "-hwaccel"))
			assert.Equal(t, tt.filter, argValue(args, "-vf"))

			hw := strings.Index(strings.Join(args, " "), "-hwaccel ")
			in := strings.Index(strings.Join(args, " "), "-i ")
			assert.Less(t, hw, in, "hwaccel must precede the input")
		})
	}

	vaapi := BuildArgs(ArgSpec{Source: "in.mkv", Profile: p, HWAccel: HWVAAPI, VAAPIDevice: "/dev/dri/renderD128"})
	assert.Equal(t, "/dev/dri/renderD128", argValue(vaapi, "-hwaccel_device"))
	assert.Equal(t, "vaapi", argValue(vaapi, "-hwaccel_output_format"))
}

func TestParseHWAccel(t *testing.T) {
	assert.Equal(t, HWVAAPI, ParseHWAccel(" VAAPI "))
	assert.Equal(t, HWNVENC, ParseHWAccel("nvenc"))
	assert.Equal(t, HWNone, ParseHWAccel(""))
	assert.Equal(t, HWNone, ParseHWAccel("cuda"))
	assert.False(t, HWNone.Hardware())
	assert.True(t, HWQSV.Hardware())
}

func TestDoubleRate(t *testing.T) {
	assert.Equal(t, "8M", doubleRate("4M"))
	assert.Equal(t, "3000k", doubleRate("1500k"))
	assert.Equal(t, "5000000", doubleRate("2500000"))
	assert.Equal(t, "fast", doubleRate("fast"))
	assert.Equal(t, "", doubleRate(""))
}

func TestAuxArgs(t *testing.T) {
	sub := SubtitleArgs("/m/a.mkv", 2, "/out/subtitle_eng.vtt.part")
	assert.Equal(t, "0:s:2", argValue(sub, "-map"))
	assert.Equal(t, "webvtt", argValue(sub, "-f"))
	assert.Equal(t, "/out/subtitle_eng.vtt.part", sub[len(sub)-1])

	thumb := ThumbnailArgs("/m/a.mkv", 12.5, "/out/thumbnail.jpg.part")
	require.Greater(t, len(thumb), 4)
	assert.Equal(t, "12.5", argValue(thumb, "-ss"))
	assert.Equal(t, "1", argValue(thumb, "-vframes"))
	assert.Equal(t, "image2", argValue(thumb, "-f"))
}
