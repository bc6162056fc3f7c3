package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/procgroup"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_ffmpeg_start_total",
		Help: "Transcoder process starts by result.",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_ffmpeg_exit_total",
		Help: "Transcoder process exits by reason.",
	}, []string{"reason"})
)

// Runner supervises a single transcoder process for one session. It owns
// the process group, keeps a stderr tail for diagnostics, and promotes the
// muxer's temp playlist so readers never observe a half-written one.
type Runner struct {
	Bin         string
	KillTimeout time.Duration

	ring *LineRing

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	waitCh  chan error
	cancel  context.CancelFunc
}

func NewRunner(bin string, killTimeout time.Duration) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	return &Runner{
		Bin:         bin,
		KillTimeout: killTimeout,
		ring:        NewLineRing(256),
		waitCh:      make(chan error, 1),
	}
}

// Start launches the process. The session directory is created as needed.
// The process lifetime is detached from ctx: a single viewer disconnect must
// not kill a session other viewers share, so Stop is the only teardown path.
func (r *Runner) Start(ctx context.Context, args []string, sessionDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("ffmpeg: runner already started")
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("ffmpeg: create session dir: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	cmd := exec.CommandContext(procCtx, r.Bin, args...) // #nosec G204
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}

	logger := log.WithContext(ctx, log.WithComponent("ffmpeg"))
	logger.Info().Str("command", cmd.String()).Msg("starting transcoder process")

	if err := cmd.Start(); err != nil {
		cancel()
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ffmpeg: start: %w", err)
	}
	startTotal.WithLabelValues("ok").Inc()
	r.cmd = cmd
	r.started = true

	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		drainStderr(stderr, r.ring)
	}()

	go r.promoteLoop(procCtx, sessionDir)

	go func() {
		err := cmd.Wait()
		ioWg.Wait()
		r.reportExit(err)
		r.waitCh <- err
		close(r.waitCh)
	}()
	return nil
}

func drainStderr(stderr io.Reader, ring *LineRing) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		_, _ = ring.Write(scanner.Bytes())
		_, _ = ring.Write([]byte("\n"))
	}
}

func (r *Runner) reportExit(err error) {
	if err == nil {
		exitTotal.WithLabelValues("clean").Inc()
		return
	}
	exitTotal.WithLabelValues("error").Inc()
	logger := log.WithComponent("ffmpeg")
	logger.Error().
		Err(err).
		Strs("stderr", r.ring.LastN(20)).
		Msg("transcoder process failed")
}

// Wait blocks until the process exits or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-r.waitCh:
		return err
	}
}

// Done exposes the exit channel for select-based callers. It delivers the
// final process error once, then closes.
func (r *Runner) Done() <-chan error {
	return r.waitCh
}

// Stop tears the process group down: SIGTERM, grace, SIGKILL.
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	cancel := r.cancel
	r.mu.Unlock()

	if cmd == nil {
		return
	}
	_ = procgroup.Terminate(cmd, r.waitCh, r.KillTimeout)
	if cancel != nil {
		cancel()
	}
}

// LastLogLines returns the newest n stderr lines for error reporting.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}

// MediaPlaylistName is the media playlist filename inside a session dir.
const MediaPlaylistName = "media.m3u8"

// TempPlaylistPath derives the muxer-side temp name for a playlist.
func TempPlaylistPath(final string) string {
	return final + ".tmp"
}

// promoteLoop watches the temp playlist and renames it over the final name
// whenever the muxer finishes a rewrite. Rename is atomic on one
// filesystem, so readers see either the old or the new complete playlist.
func (r *Runner) promoteLoop(ctx context.Context, sessionDir string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	final := filepath.Join(sessionDir, MediaPlaylistName)
	tmp := TempPlaylistPath(final)
	logger := log.WithComponent("ffmpeg")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(tmp)
			if err != nil || info.Size() == 0 {
				continue
			}
			if err := os.Rename(tmp, final); err != nil {
				logger.Warn().Err(err).Str(log.FieldPlaylistPath, final).Msg("playlist promotion failed")
			}
		}
	}
}
