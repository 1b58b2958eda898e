// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/loopcast/internal/profiles"
)

// HWAccel names an encoder family.
type HWAccel string

const (
	HWNone         HWAccel = "none"
	HWVideoToolbox HWAccel = "videotoolbox"
	HWNVENC        HWAccel = "nvenc"
	HWQSV          HWAccel = "qsv"
	HWVAAPI        HWAccel = "vaapi"
)

// ParseHWAccel accepts the config spelling; "" and unknown values mean none.
func ParseHWAccel(s string) HWAccel {
	switch HWAccel(strings.ToLower(strings.TrimSpace(s))) {
	case HWVideoToolbox:
		return HWVideoToolbox
	case HWNVENC:
		return HWNVENC
	case HWQSV:
		return HWQSV
	case HWVAAPI:
		return HWVAAPI
	default:
		return HWNone
	}
}

// Hardware reports whether a is a hardware encoder.
func (a HWAccel) Hardware() bool { return a != HWNone && a != "" }

// Encoder is the ffmpeg video encoder for a.
func (a HWAccel) Encoder() string {
	switch a {
	case HWVideoToolbox:
		return "h264_videotoolbox"
	case HWNVENC:
		return "h264_nvenc"
	case HWQSV:
		return "h264_qsv"
	case HWVAAPI:
		return "h264_vaapi"
	default:
		return "libx264"
	}
}

const (
	manifestName   = "manifest.m3u8"
	segmentPattern = "segment%d.ts"
)

// SegmentName is the file name of segment n inside a job directory.
func SegmentName(n int) string { return fmt.Sprintf(segmentPattern, n) }

// ArgSpec is everything needed to render an encoder command line.
type ArgSpec struct {
	Source         string
	Profile        profiles.Profile
	HWAccel        HWAccel
	VAAPIDevice    string
	SegmentSeconds int
	AudioOnly      bool // source has no video stream; HWAccel is ignored
}

// BuildArgs renders the HLS encoder invocation. Output paths are relative;
// the runner starts the process inside the job directory.
func BuildArgs(s ArgSpec) []string {
	seg := s.SegmentSeconds
	if seg <= 0 {
		seg = 4
	}
	p := s.Profile

	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "warning"}
	if s.AudioOnly {
		args = append(args,
			"-i", s.Source,
			"-map", "0:a:0",
			"-vn", "-sn", "-dn",
		)
	} else {
		args = append(args, hwInputArgs(s.HWAccel, s.VAAPIDevice)...)
		args = append(args,
			"-i", s.Source,
			"-map", "0:v:0",
			"-map", "0:a:0?",
			"-sn", "-dn",
		)
		args = append(args, videoArgs(s.HWAccel, p)...)
		args = append(args,
			"-b:v", p.VideoBitrate,
			"-maxrate", p.VideoBitrate,
			"-bufsize", doubleRate(p.VideoBitrate),
			"-force_key_frames", "expr:gte(t,n_forced*"+strconv.Itoa(seg)+")",
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-ac", "2",
		"-b:a", p.AudioBitrate,
		"-f", "hls",
		"-hls_time", strconv.Itoa(seg),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+append_list",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", segmentPattern,
		manifestName,
	)
	return args
}

func hwInputArgs(a HWAccel, vaapiDevice string) []string {
	switch a {
	case HWVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	case HWNVENC:
		return []string{"-hwaccel", "cuda"}
	case HWQSV:
		return []string{"-hwaccel", "qsv"}
	case HWVAAPI:
		args := []string{"-hwaccel", "vaapi"}
		if vaapiDevice != "" {
			args = append(args, "-hwaccel_device", vaapiDevice)
		}
		return append(args, "-hwaccel_output_format", "vaapi")
	default:
		return nil
	}
}

func videoArgs(a HWAccel, p profiles.Profile) []string {
	scale := fmt.Sprintf("scale=-2:%d", p.Height)
	switch a {
	case HWVAAPI:
		return []string{
			"-vf", fmt.Sprintf("scale_vaapi=w=%d:h=%d:force_original_aspect_ratio=decrease", p.Width, p.Height),
			"-c:v", a.Encoder(),
		}
	case HWNVENC:
		return []string{"-vf", scale, "-c:v", a.Encoder(), "-preset", "p4"}
	case HWVideoToolbox, HWQSV:
		return []string{"-vf", scale, "-c:v", a.Encoder()}
	default:
		preset := p.Preset
		if preset == "" {
			preset = "fast"
		}
		return []string{"-vf", scale, "-c:v", a.Encoder(), "-preset", preset, "-pix_fmt", "yuv420p"}
	}
}

// doubleRate doubles an ffmpeg bitrate such as "4M" or "1500k" for -bufsize.
func doubleRate(rate string) string {
	if rate == "" {
		return rate
	}
	num, unit := rate, ""
	if last := rate[len(rate)-1]; last < '0' || last > '9' {
		num, unit = rate[:len(rate)-1], rate[len(rate)-1:]
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return rate
	}
	return strconv.Itoa(n*2) + unit
}

// SubtitleArgs extracts subtitle stream trackIndex as WebVTT into out.
func SubtitleArgs(source string, trackIndex int, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-i", source,
		"-map", "0:s:" + strconv.Itoa(trackIndex),
		"-c:s", "webvtt",
		"-f", "webvtt",
		out,
	}
}

// ThumbnailArgs grabs one scaled frame at seekSeconds into out as JPEG.
func ThumbnailArgs(source string, seekSeconds float64, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-ss", strconv.FormatFloat(seekSeconds, 'f', -1, 64),
		"-i", source,
		"-vframes", "1",
		"-vf", "scale=320:-1",
		"-q:v", "2",
		"-f", "image2",
		"-c:v", "mjpeg",
		out,
	}
}
