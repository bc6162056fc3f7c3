package capabilities

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/nexamediaserver/server/internal/log"
)

const probeTimeout = 10 * time.Second

// runFunc executes the transcoder binary with args and returns combined
// stdout. Tests inject canned output here.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, error)

func execRun(ctx context.Context, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, bin, args...).Output()
}

// Detector probes an ffmpeg binary for its capabilities.
type Detector struct {
	Bin string
	run runFunc
}

// NewDetector returns a Detector for the given binary path.
func NewDetector(bin string) *Detector {
	return &Detector{Bin: bin, run: execRun}
}

// Detect builds a capability snapshot. A binary that cannot be executed at
// all is a hard error; the caller treats that as fatal at startup. A single
// listing category that fails to parse degrades to an empty set so the rest
// of the system falls back to software paths instead of refusing to start.
func (d *Detector) Detect(ctx context.Context) (*Snapshot, error) {
	logger := log.WithComponent("capabilities")

	out, err := d.run(ctx, d.Bin, "-version")
	if err != nil {
		return nil, fmt.Errorf("capabilities: run %s -version: %w", d.Bin, err)
	}

	snap := &Snapshot{
		Version:  parseVersion(out),
		hwaccels: map[string]struct{}{},
		encoders: map[string]struct{}{},
		decoders: map[string]struct{}{},
		filters:  map[string]struct{}{},
	}

	categories := []struct {
		flag  string
		parse func([]byte) map[string]struct{}
		dst   *map[string]struct{}
	}{
		{"-hwaccels", parseHWAccels, &snap.hwaccels},
		{"-encoders", parseCoders, &snap.encoders},
		{"-decoders", parseCoders, &snap.decoders},
		{"-filters", parseFilters, &snap.filters},
	}
	for _, c := range categories {
		out, err := d.run(ctx, d.Bin, "-hide_banner", c.flag)
		if err != nil {
			logger.Warn().Err(err).Str("listing", c.flag).
				Msg("capability listing failed, treating as empty")
			continue
		}
		*c.dst = c.parse(out)
	}

	snap.Recommended = snap.recommend(runtime.GOOS)

	logger.Info().
		Str("version", snap.Version).
		Int("encoders", len(snap.encoders)).
		Int("decoders", len(snap.decoders)).
		Int("filters", len(snap.filters)).
		Int("hwaccels", len(snap.hwaccels)).
		Str(log.FieldAccel, string(snap.Recommended)).
		Msg("transcoder capabilities detected")

	return snap, nil
}

// parseVersion extracts the version token from the first line of
// "ffmpeg version N.N.N ..." output.
func parseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return "unknown"
}

// parseHWAccels parses `-hwaccels` output: a header line followed by one
// method name per line.
func parseHWAccels(out []byte) map[string]struct{} {
	set := map[string]struct{}{}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "Hardware acceleration methods") {
			continue
		}
		set[line] = struct{}{}
	}
	return set
}

// parseCoders parses `-encoders` / `-decoders` output. Entries follow a
// "------" separator and look like " V..... libx264  H.264 ...": a flags
// column, then the name.
func parseCoders(out []byte) map[string]struct{} {
	set := map[string]struct{}{}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	inList := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inList {
			if strings.HasPrefix(line, "------") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		set[fields[1]] = struct{}{}
	}
	return set
}

// parseFilters parses `-filters` output. Entries look like
// " ... scale  V->V  Scale the input video ...": flags, name, pads.
func parseFilters(out []byte) map[string]struct{} {
	set := map[string]struct{}{}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		// Entry lines carry flags, name and an A/V/N pad spec with "->".
		if len(fields) < 3 || !strings.Contains(fields[2], "->") {
			continue
		}
		set[fields[1]] = struct{}{}
	}
	return set
}
