package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// GopGroup is one keyframe-delimited span of the source.
type GopGroup struct {
	PtsMs      int64 `json:"ptsMs"`
	DurationMs int64 `json:"durationMs"`
	SizeBytes  int64 `json:"sizeBytes"`
}

// GopIndex is a per-source keyframe index used to resolve arbitrary seek
// requests to a clean transcode start point.
type GopIndex struct {
	TimebaseNum int        `json:"timebaseNum"`
	TimebaseDen int        `json:"timebaseDen"`
	Groups      []GopGroup `json:"groups"`
}

// SnapToKeyframe resolves seekMs to the presentation time of the nearest
// preceding keyframe. A seek before the first keyframe snaps to it; a seek
// past the last keyframe snaps to the last.
func (g *GopIndex) SnapToKeyframe(seekMs int64) int64 {
	if len(g.Groups) == 0 {
		return 0
	}
	i := sort.Search(len(g.Groups), func(i int) bool {
		return g.Groups[i].PtsMs > seekMs
	})
	if i == 0 {
		return g.Groups[0].PtsMs
	}
	return g.Groups[i-1].PtsMs
}

// buildGopIndex runs ffprobe over the video packet stream and keeps only
// keyframe packets. Output format: one CSV line per packet with
// pts_time, duration_time, size, flags.
func buildGopIndex(ctx context.Context, bin, path string) (*GopIndex, error) {
	if bin == "" {
		bin = "ffprobe"
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,duration_time,size,flags",
		"-of", "csv=print_section=0",
		path,
	}

	// #nosec G204 -- binary comes from config; args are fixed
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, fmt.Errorf("gop index probe failed: %w (stderr: %s)", err, errStr)
	}

	idx, err := parseGopPackets(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	if len(idx.Groups) == 0 {
		return nil, fmt.Errorf("no keyframes found in %s", path)
	}
	return idx, nil
}

func parseGopPackets(r *bytes.Reader) (*GopIndex, error) {
	// Millisecond resolution is enough for seek snapping; the source
	// timebase is recorded for callers that need exact PTS math.
	idx := &GopIndex{TimebaseNum: 1, TimebaseDen: 1000}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lastKey *GopGroup
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			continue
		}
		flags := fields[len(fields)-1]
		if !strings.Contains(flags, "K") {
			continue
		}
		pts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			// packets with N/A pts cannot anchor a seek
			continue
		}
		size, _ := strconv.ParseInt(fields[2], 10, 64)

		group := GopGroup{PtsMs: int64(pts * 1000), SizeBytes: size}
		idx.Groups = append(idx.Groups, group)
		if lastKey != nil {
			lastKey.DurationMs = group.PtsMs - lastKey.PtsMs
		}
		lastKey = &idx.Groups[len(idx.Groups)-1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan gop packets: %w", err)
	}

	sort.Slice(idx.Groups, func(i, j int) bool {
		return idx.Groups[i].PtsMs < idx.Groups[j].PtsMs
	})
	return idx, nil
}
