package hls

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nexamediaserver/server/internal/ffmpeg"
)

// Progress summarizes how much of a session's media playlist has been
// materialized so far.
type Progress struct {
	Segments          int   `json:"segments"`
	MaterializedMs    int64 `json:"materializedMs"`
	TargetDurationSec int   `json:"targetDurationSec"`

	// Complete means the transcoder wrote the end-of-list marker.
	Complete bool `json:"complete"`
}

// ParseProgress reads a media playlist and sums its segment timeline.
func ParseProgress(playlist string) (*Progress, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	p := &Progress{}

	var pendingMs int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "#EXT-X-ENDLIST":
			p.Complete = true

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			// VOD playlists complete once the end marker lands; the type
			// tag alone does not mean the encode finished.

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v := strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("hls: invalid target duration %q", v)
			}
			p.TargetDurationSec = n

		case strings.HasPrefix(line, "#EXTINF:"):
			v := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("hls: invalid segment duration %q", v)
			}
			pendingMs = int64(secs * 1000)

		case !strings.HasPrefix(line, "#"):
			// URI line closes one segment.
			p.Segments++
			p.MaterializedMs += pendingMs
			pendingMs = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Progress reports the session's materialized timeline by reading its media
// playlist. A session whose playlist has not been promoted yet reports zero
// progress.
func (m *Materializer) Progress(s *Session) (*Progress, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, ffmpeg.MediaPlaylistName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Progress{}, nil
		}
		return nil, err
	}
	return ParseProgress(string(data))
}
