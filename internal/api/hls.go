// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	contentTypeHLSPlaylist = "application/vnd.apple.mpegurl"
	contentTypeHLSSegment  = "video/MP2T"
	contentTypeVTT         = "text/vtt; charset=utf-8"
	contentTypeJPEG        = "image/jpeg"

	// defaultDirectDuration is advertised when neither the probe nor the
	// catalog knows the length.
	defaultDirectDuration = 3600
)

var containerTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// contentTypeFor maps a media file extension to its MIME type.
func contentTypeFor(path string) string {
	if ct, ok := containerTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// directManifest is a single-entry VOD playlist pointing at the direct
// route, for players that only accept HLS. query is appended to the entry
// and must already be encoded.
func directManifest(id int64, query string, seconds int) string {
	if seconds <= 0 {
		seconds = defaultDirectDuration
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", seconds)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXTINF:%d.0,\n", seconds)
	fmt.Fprintf(&b, "/api/stream/%d/direct", id)
	if query != "" {
		b.WriteString("?" + query)
	}
	b.WriteByte('\n')
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// durationSeconds prefers the probed length over the catalog's.
func durationSeconds(probed, known time.Duration) int {
	if probed > 0 {
		return int(probed.Round(time.Second) / time.Second)
	}
	return int(known.Round(time.Second) / time.Second)
}

var segmentLine = regexp.MustCompile(`^segment(\d+)\.ts$`)

// rewriteManifest points the encoder's segment entries at the segment route.
// query is appended to every rewritten URI and must already be encoded.
func rewriteManifest(raw []byte, query string) []byte {
	var out bytes.Buffer
	out.Grow(len(raw) + 64)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := segmentLine.FindStringSubmatch(line); m != nil {
			line = "segment/" + m[1] + ".ts"
			if query != "" {
				line += "?" + query
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
