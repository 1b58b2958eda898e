// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/loopcast/internal/playback"
)

// Runner executes the inspection tool and returns its raw JSON output.
type Runner interface {
	Run(ctx context.Context, path string) ([]byte, error)
}

// ExecRunner runs ffprobe as a subprocess.
type ExecRunner struct {
	Bin string
}

func (r ExecRunner) Run(ctx context.Context, path string) ([]byte, error) {
	bin := r.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	// #nosec G204 - binary comes from config; path is passed as a single argument
	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		msg := stderr.String()
		if len(msg) > 2048 {
			msg = msg[:2048] + "..."
		}
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, msg)
	}
	return out, nil
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

type probeStream struct {
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

var errNoStreams = errors.New("no video or audio stream")

// textSubtitleCodecs can be converted to WebVTT; bitmap codecs cannot.
var textSubtitleCodecs = map[string]bool{
	"subrip": true, "srt": true, "ass": true, "ssa": true,
	"webvtt": true, "mov_text": true, "text": true,
}

// Parse converts ffprobe JSON into a SourceProbe. It returns errNoStreams
// when neither a video nor an audio stream carries a codec name.
func Parse(raw []byte) (playback.SourceProbe, error) {
	var data probeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return playback.SourceProbe{}, fmt.Errorf("json decode: %w", err)
	}

	p := playback.SourceProbe{
		Container: containerName(data.Format.FormatName),
		Duration:  parseSeconds(data.Format.Duration),
	}
	if br, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		p.Bitrate = br
	}

	subIdx := 0
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if p.VideoCodec != "" || s.CodecName == "" {
				continue
			}
			// Cover art is reported as a video stream.
			if s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			p.VideoCodec = s.CodecName
			p.Width, p.Height = s.Width, s.Height
			if p.Duration == 0 {
				p.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			if p.AudioCodec == "" && s.CodecName != "" {
				p.AudioCodec = s.CodecName
			}
		case "subtitle":
			if textSubtitleCodecs[s.CodecName] {
				lang := strings.ToLower(s.Tags["language"])
				if lang == "" {
					lang = "und"
				}
				p.Subtitles = append(p.Subtitles, playback.SubtitleStream{
					Index:    subIdx,
					Language: lang,
					Codec:    s.CodecName,
				})
			}
			subIdx++
		}
	}

	if !p.HasVideo() && !p.HasAudio() {
		return playback.SourceProbe{}, errNoStreams
	}
	return p, nil
}

// containerName keeps the first demuxer name: "matroska,webm" -> "matroska".
func containerName(formatName string) string {
	name, _, _ := strings.Cut(formatName, ",")
	return strings.TrimSpace(name)
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
