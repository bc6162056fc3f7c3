package hls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nexamediaserver/server/internal/ffmpeg"
	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/throttle"
)

// ErrSegmentTimeout means a segment did not appear within the wait window.
var ErrSegmentTimeout = errors.New("hls: segment wait timed out")

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexa_hls_sessions_active",
		Help: "HLS sessions currently materialized.",
	})

	segmentWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexa_hls_segment_wait_seconds",
		Help:    "Time spent waiting for a segment to appear on disk.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	sessionLaunchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_hls_session_launch_total",
		Help: "Session launches by result.",
	}, []string{"result"})
)

// Process is the slice of the transcoder runner the materializer needs.
// Tests substitute a fake that writes segments itself.
type Process interface {
	Start(ctx context.Context, args []string, sessionDir string) error
	Done() <-chan error
	Stop()
	LastLogLines(n int) []string
}

// GopIndexer resolves a source file to its keyframe index.
type GopIndexer interface {
	Index(ctx context.Context, path string) (*media.GopIndex, error)
}

// Request describes one session to materialize. Key must encode every
// parameter that changes the output; two requests with equal keys share a
// session.
type Request struct {
	Key     string
	Input   ffmpeg.InputSpec
	Video   ffmpeg.VideoSpec
	Audio   ffmpeg.AudioSpec
	StartMs int64

	SegmentSeconds int
}

// Config sizes a Materializer.
type Config struct {
	// Root is the directory holding all session directories.
	Root string

	// Bin is the transcoder binary path.
	Bin string

	// IdleTTL is how long an unreferenced session survives before the
	// sweeper reclaims it.
	IdleTTL time.Duration

	// SweepInterval is the eviction scan cadence.
	SweepInterval time.Duration

	// KillTimeout bounds graceful process shutdown.
	KillTimeout time.Duration

	// AcquireTimeout bounds how long a launch waits on a throttle slot.
	AcquireTimeout time.Duration

	// NewProcess overrides the transcoder process factory. Nil means a
	// real ffmpeg runner using Bin.
	NewProcess func() Process
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.IdleTTL <= 0 {
		out.IdleTTL = 2 * time.Minute
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 15 * time.Second
	}
	if out.KillTimeout <= 0 {
		out.KillTimeout = 5 * time.Second
	}
	if out.AcquireTimeout <= 0 {
		out.AcquireTimeout = 10 * time.Second
	}
	return out
}

// Materializer owns every live HLS session. Session creation is
// exactly-once per key: concurrent requests for the same key get the same
// handle and exactly one process launch.
type Materializer struct {
	cfg     Config
	bank    *throttle.Bank
	indexer GopIndexer
	logger  zerolog.Logger

	newProcess func() Process

	mu       sync.Mutex
	sessions map[string]*Session

	done chan struct{}
}

// NewMaterializer creates the session manager and starts its eviction
// sweeper. bank may be nil to disable cluster throttling; indexer may be
// nil to disable keyframe-aligned seeking.
func NewMaterializer(cfg Config, bank *throttle.Bank, indexer GopIndexer) *Materializer {
	cfg = cfg.withDefaults()
	m := &Materializer{
		cfg:        cfg,
		bank:       bank,
		indexer:    indexer,
		logger:     log.WithComponent("hls"),
		newProcess: cfg.NewProcess,
		sessions:   map[string]*Session{},
		done:       make(chan struct{}),
	}
	if m.newProcess == nil {
		m.newProcess = func() Process {
			return ffmpeg.NewRunner(cfg.Bin, cfg.KillTimeout)
		}
	}
	go m.sweepLoop()
	return m
}

// EnsureSession returns the session for req, creating it when none is live.
// The returned bool reports whether this call launched it.
func (m *Materializer) EnsureSession(ctx context.Context, req Request) (*Session, bool, error) {
	return m.ensure(ctx, req, req.StartMs)
}

func (m *Materializer) ensure(ctx context.Context, req Request, requestedMs int64) (*Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[req.Key]; ok {
		select {
		case <-s.Done:
			// Finished but not yet swept; replace it.
			delete(m.sessions, req.Key)
		default:
			s.Touch()
			m.mu.Unlock()
			return s, false, nil
		}
	}

	s := &Session{
		Key:              req.Key,
		Dir:              filepath.Join(m.cfg.Root, sessionDirName(req.Key)),
		RequestedStartMs: requestedMs,
		AchievedStartMs:  req.StartMs,
		Done:             make(chan struct{}),
		lastAccess:       time.Now(),
	}
	s.setState(StateStarting)
	m.sessions[req.Key] = s
	m.mu.Unlock()

	if err := m.launch(ctx, s, req); err != nil {
		s.setState(StateFailed)
		s.setErr(err)
		close(s.Done)
		m.mu.Lock()
		delete(m.sessions, req.Key)
		m.mu.Unlock()
		sessionLaunchTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}

	sessionLaunchTotal.WithLabelValues("ok").Inc()
	sessionsActive.Inc()
	return s, true, nil
}

// EnsureSessionWithSeek snaps req.StartMs back to the nearest preceding
// keyframe before materializing, so the first segment starts clean. The
// achieved position is reported on the session.
func (m *Materializer) EnsureSessionWithSeek(ctx context.Context, req Request) (*Session, bool, error) {
	requested := req.StartMs
	if req.StartMs > 0 && m.indexer != nil {
		idx, err := m.indexer.Index(ctx, req.Input.Path)
		if err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldPath, req.Input.Path).
				Msg("keyframe index unavailable, seeking without snap")
		} else {
			req.StartMs = idx.SnapToKeyframe(req.StartMs)
		}
	}
	req.Input.StartSeconds = float64(req.StartMs) / 1000.0
	return m.ensure(ctx, req, requested)
}

func (m *Materializer) launch(ctx context.Context, s *Session, req Request) error {
	var lease *throttle.Lease
	if m.bank != nil {
		var err error
		lease, err = m.bank.Acquire(ctx, m.cfg.AcquireTimeout)
		if err != nil {
			return fmt.Errorf("hls: session %s: %w", req.Key, err)
		}
	}

	playlist := filepath.Join(s.Dir, ffmpeg.MediaPlaylistName)
	args := ffmpeg.BuildHLSArgs(req.Input, req.Video, req.Audio, ffmpeg.HLSSpec{
		PlaylistPath:   ffmpeg.TempPlaylistPath(playlist),
		SegmentPattern: filepath.Join(s.Dir, "seg%05d.ts"),
		SegmentSeconds: req.SegmentSeconds,
	})

	proc := m.newProcess()
	if err := proc.Start(ctx, args, s.Dir); err != nil {
		if lease != nil {
			lease.Release(context.Background())
		}
		return err
	}
	s.stop = proc.Stop

	m.logger.Info().
		Str(log.FieldSessionID, s.Key).
		Int64("start_ms", s.AchievedStartMs).
		Str(log.FieldPath, s.Dir).
		Msg("session materializing")

	go m.superviseSession(s, proc, lease)
	return nil
}

// superviseSession waits for process exit, settles the session state and
// returns the throttle slot.
func (m *Materializer) superviseSession(s *Session, proc Process, lease *throttle.Lease) {
	err := <-proc.Done()

	if lease != nil {
		lease.Release(context.Background())
	}

	if err != nil && s.State() != StateExpired {
		s.setState(StateFailed)
		s.setErr(err)
		m.logger.Error().
			Err(err).
			Str(log.FieldSessionID, s.Key).
			Strs("stderr", proc.LastLogLines(10)).
			Msg("session process failed")
	} else if s.State() == StateStarting || s.State() == StateReady {
		// VOD encode ran to completion; segments stay servable.
		s.setState(StateReady)
	}

	close(s.Done)
	sessionsActive.Dec()
}

// WaitForSegment blocks until the named segment exists in the session dir,
// the session fails, or the timeout passes. The filename is validated by
// the HTTP layer before it gets here.
func (m *Materializer) WaitForSegment(ctx context.Context, s *Session, name string, timeout time.Duration) error {
	start := time.Now()
	defer func() { segmentWaitSeconds.Observe(time.Since(start).Seconds()) }()

	path := filepath.Join(s.Dir, name)
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond

	for {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			if s.State() == StateStarting {
				s.setState(StateReady)
			}
			s.Touch()
			return nil
		}

		select {
		case <-s.Done:
			// Process gone: either the segment exists now or never will.
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				return nil
			}
			if err := s.Err(); err != nil {
				return fmt.Errorf("hls: session failed waiting for %s: %w", name, err)
			}
			return fmt.Errorf("%w: %s (session complete without it)", ErrSegmentTimeout, name)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrSegmentTimeout, name, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

// Get returns the live session for key, nil when none.
func (m *Materializer) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// Close stops the sweeper and tears down every session.
func (m *Materializer) Close() {
	close(m.done)

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.evict(s)
	}
}

func (m *Materializer) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Materializer) sweep() {
	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.idle(m.cfg.IdleTTL) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.logger.Info().Str(log.FieldSessionID, s.Key).Msg("evicting idle session")
		m.evict(s)
	}
}

// evict stops the process, removes the session directory and forgets the
// session.
func (m *Materializer) evict(s *Session) {
	s.setState(StateExpired)
	if s.stop != nil {
		s.stop()
	}

	m.mu.Lock()
	delete(m.sessions, s.Key)
	m.mu.Unlock()

	if err := os.RemoveAll(s.Dir); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldPath, s.Dir).Msg("session dir cleanup failed")
	}
}

// sessionDirName maps a session key to a filesystem-safe directory name.
func sessionDirName(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
