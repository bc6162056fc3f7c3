// Package remux rewraps media into a different container with stream copy,
// writing the result straight to the client. No session state: the process
// lives exactly as long as the response.
package remux

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexamediaserver/server/internal/ffmpeg"
	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/procgroup"
)

var remuxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nexa_remux_total",
	Help: "Remux streams by result.",
}, []string{"result"})

// Remuxer spawns stream-copy rewraps.
type Remuxer struct {
	Bin         string
	KillTimeout time.Duration
}

func New(bin string) *Remuxer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Remuxer{Bin: bin, KillTimeout: 5 * time.Second}
}

// Stream rewraps the source into container and copies the muxed bytes to w
// until the input ends, the client goes away, or ctx is cancelled. startMs
// seeks before remuxing; callers snap it to a keyframe first.
func (r *Remuxer) Stream(ctx context.Context, w io.Writer, path, container string, startMs int64) error {
	in := ffmpeg.InputSpec{
		Path:         path,
		StartSeconds: float64(startMs) / 1000.0,
	}
	args := ffmpeg.BuildRemuxArgs(in, container)

	cmd := exec.CommandContext(ctx, r.Bin, args...) // #nosec G204
	procgroup.Set(cmd)
	cmd.Stdout = w

	ring := ffmpeg.NewLineRing(64)
	cmd.Stderr = ring

	logger := log.WithContext(ctx, log.WithComponent("remux"))
	logger.Info().
		Str(log.FieldPath, path).
		Str(log.FieldContainer, container).
		Int64("start_ms", startMs).
		Msg("remux stream starting")

	if err := cmd.Start(); err != nil {
		remuxTotal.WithLabelValues("start_error").Inc()
		return fmt.Errorf("remux: start: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			// A vanished client breaks the stdout pipe mid-write; that
			// exit is routine, not a transcoder fault.
			if ctx.Err() != nil {
				remuxTotal.WithLabelValues("client_gone").Inc()
				return nil
			}
			remuxTotal.WithLabelValues("error").Inc()
			logger.Error().Err(err).Strs("stderr", ring.LastN(10)).Msg("remux failed")
			return fmt.Errorf("remux: %w", err)
		}
		remuxTotal.WithLabelValues("ok").Inc()
		return nil
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, r.KillTimeout)
		remuxTotal.WithLabelValues("client_gone").Inc()
		return nil
	}
}

// ContentType maps a remux container to its MIME type.
func ContentType(container string) string {
	switch container {
	case "mp4":
		return "video/mp4"
	case "ts":
		return "video/mp2t"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
