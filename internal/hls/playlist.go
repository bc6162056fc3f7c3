package hls

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// Variant describes one rendition line in the master playlist.
type Variant struct {
	// Bandwidth is the peak bitrate in bits per second.
	Bandwidth int64
	Width     int
	Height    int

	// Codecs is the RFC 6381 codec string, e.g. "avc1.64001f,mp4a.40.2".
	Codecs string

	// URI points at the media playlist, relative to the master.
	URI string
}

// MasterPlaylistName is the master playlist filename inside a session dir.
const MasterPlaylistName = "master.m3u8"

// WriteMasterPlaylist renders and atomically writes the master playlist for
// a session. Atomic write matters: a client can fetch the master the moment
// the session handle exists.
func WriteMasterPlaylist(sessionDir string, variants []Variant) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=")
		b.WriteString(fmt.Sprintf("%d", v.Bandwidth))
		if v.Width > 0 && v.Height > 0 {
			fmt.Fprintf(&b, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if v.Codecs != "" {
			fmt.Fprintf(&b, ",CODECS=%q", v.Codecs)
		}
		b.WriteString("\n")
		b.WriteString(v.URI)
		b.WriteString("\n")
	}

	path := filepath.Join(sessionDir, MasterPlaylistName)
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("hls: write master playlist: %w", err)
	}
	return nil
}

// CodecString maps an encoder choice to its RFC 6381 tag. Only the codecs
// the transcoding profiles can produce are listed.
func CodecString(videoCodec, audioCodec string) string {
	var parts []string
	switch videoCodec {
	case "h264":
		parts = append(parts, "avc1.64001f")
	case "hevc":
		parts = append(parts, "hvc1.1.6.L120.90")
	}
	switch audioCodec {
	case "aac":
		parts = append(parts, "mp4a.40.2")
	case "mp3":
		parts = append(parts, "mp4a.40.34")
	}
	return strings.Join(parts, ",")
}
