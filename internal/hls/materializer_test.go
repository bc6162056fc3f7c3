package hls

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server/internal/ffmpeg"
	"github.com/nexamediaserver/server/internal/media"
)

// fakeProcess stands in for the transcoder: it writes the segments it is
// told to and exits with a configured error.
type fakeProcess struct {
	segments []string
	exitErr  error
	delay    time.Duration

	done    chan error
	stopped atomic.Bool
}

func newFakeProcess(segments []string, exitErr error, delay time.Duration) *fakeProcess {
	return &fakeProcess{
		segments: segments,
		exitErr:  exitErr,
		delay:    delay,
		done:     make(chan error, 1),
	}
}

func (f *fakeProcess) Start(_ context.Context, _ []string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	go func() {
		time.Sleep(f.delay)
		for _, seg := range f.segments {
			_ = os.WriteFile(filepath.Join(dir, seg), []byte("segment-bytes"), 0o644)
		}
		f.done <- f.exitErr
		close(f.done)
	}()
	return nil
}

func (f *fakeProcess) Done() <-chan error        { return f.done }
func (f *fakeProcess) Stop()                     { f.stopped.Store(true) }
func (f *fakeProcess) LastLogLines(int) []string { return nil }

func testMaterializer(t *testing.T, mk func() Process) *Materializer {
	t.Helper()
	m := NewMaterializer(Config{
		Root:          t.TempDir(),
		IdleTTL:       50 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	}, nil, nil)
	m.newProcess = mk
	t.Cleanup(m.Close)
	return m
}

func TestConfigAcquireTimeout(t *testing.T) {
	t.Parallel()

	def := (&Config{}).withDefaults()
	require.Equal(t, 10*time.Second, def.AcquireTimeout)

	cfg := &Config{AcquireTimeout: 3 * time.Second}
	require.Equal(t, 3*time.Second, cfg.withDefaults().AcquireTimeout)
}

func TestEnsureSessionExactlyOnce(t *testing.T) {
	t.Parallel()

	var launches atomic.Int32
	m := testMaterializer(t, func() Process {
		launches.Add(1)
		return newFakeProcess([]string{"seg00000.ts"}, nil, 200*time.Millisecond)
	})

	req := Request{Key: "part1-v1", Input: ffmpeg.InputSpec{Path: "/media/a.mkv"}}

	const n = 8
	var wg sync.WaitGroup
	dirs := make([]string, n)
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, isNew, err := m.EnsureSession(context.Background(), req)
			require.NoError(t, err)
			dirs[i] = s.Dir
			created[i] = isNew
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), launches.Load(), "concurrent requests must share one launch")
	newCount := 0
	for i := 1; i < n; i++ {
		require.Equal(t, dirs[0], dirs[i], "all callers must get the same session dir")
		if created[i] {
			newCount++
		}
	}
	if created[0] {
		newCount++
	}
	require.Equal(t, 1, newCount)
}

func TestWaitForSegment(t *testing.T) {
	t.Parallel()

	m := testMaterializer(t, func() Process {
		return newFakeProcess([]string{"seg00000.ts"}, nil, 80*time.Millisecond)
	})

	s, isNew, err := m.EnsureSession(context.Background(), Request{Key: "p2"})
	require.NoError(t, err)
	require.True(t, isNew)

	// Hold a reference so the short test IdleTTL cannot evict mid-wait.
	s.Acquire()
	defer s.Release()

	require.NoError(t, m.WaitForSegment(context.Background(), s, "seg00000.ts", 2*time.Second))
	require.Equal(t, StateReady, s.State())
}

func TestWaitForSegmentTimeout(t *testing.T) {
	t.Parallel()

	m := testMaterializer(t, func() Process {
		return newFakeProcess(nil, nil, time.Hour)
	})

	s, _, err := m.EnsureSession(context.Background(), Request{Key: "p3"})
	require.NoError(t, err)
	s.Acquire()
	defer s.Release()

	err = m.WaitForSegment(context.Background(), s, "seg00009.ts", 80*time.Millisecond)
	require.ErrorIs(t, err, ErrSegmentTimeout)
}

func TestWaitForSegmentSessionFailure(t *testing.T) {
	t.Parallel()

	procErr := errors.New("exit status 1")
	m := testMaterializer(t, func() Process {
		return newFakeProcess(nil, procErr, 30*time.Millisecond)
	})

	s, _, err := m.EnsureSession(context.Background(), Request{Key: "p4"})
	require.NoError(t, err)
	s.Acquire()
	defer s.Release()

	err = m.WaitForSegment(context.Background(), s, "seg00000.ts", 2*time.Second)
	require.ErrorIs(t, err, procErr)
	require.Equal(t, StateFailed, s.State())
}

func TestIdleEviction(t *testing.T) {
	t.Parallel()

	m := testMaterializer(t, func() Process {
		return newFakeProcess([]string{"seg00000.ts"}, nil, 10*time.Millisecond)
	})

	s, _, err := m.EnsureSession(context.Background(), Request{Key: "p5"})
	require.NoError(t, err)
	dir := s.Dir

	require.Eventually(t, func() bool {
		if m.Get("p5") != nil {
			return false
		}
		_, statErr := os.Stat(dir)
		return os.IsNotExist(statErr)
	}, 3*time.Second, 20*time.Millisecond, "idle session must be evicted and its dir removed")
}

func TestHeldSessionSurvivesSweep(t *testing.T) {
	t.Parallel()

	m := testMaterializer(t, func() Process {
		return newFakeProcess(nil, nil, time.Hour)
	})

	s, _, err := m.EnsureSession(context.Background(), Request{Key: "p6"})
	require.NoError(t, err)
	s.Acquire()
	defer s.Release()

	time.Sleep(150 * time.Millisecond) // several sweep intervals
	require.Same(t, s, m.Get("p6"))
}

// seekIndexer returns a fixed keyframe index.
type seekIndexer struct{ idx media.GopIndex }

func (s seekIndexer) Index(context.Context, string) (*media.GopIndex, error) {
	return &s.idx, nil
}

func TestEnsureSessionWithSeekSnapsToKeyframe(t *testing.T) {
	t.Parallel()

	m := NewMaterializer(Config{Root: t.TempDir()}, nil, seekIndexer{idx: media.GopIndex{
		Groups: []media.GopGroup{{PtsMs: 0}, {PtsMs: 6000}, {PtsMs: 12000}},
	}})
	m.newProcess = func() Process { return newFakeProcess(nil, nil, time.Hour) }
	t.Cleanup(m.Close)

	s, isNew, err := m.EnsureSessionWithSeek(context.Background(), Request{Key: "p7", StartMs: 9500})
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, int64(9500), s.RequestedStartMs)
	require.Equal(t, int64(6000), s.AchievedStartMs)
}

func TestWriteMasterPlaylist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := WriteMasterPlaylist(dir, []Variant{{
		Bandwidth: 4_500_000,
		Width:     1280,
		Height:    720,
		Codecs:    CodecString("h264", "aac"),
		URI:       ffmpeg.MediaPlaylistName,
	}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, MasterPlaylistName))
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "#EXTM3U\n"))
	require.Contains(t, content, "BANDWIDTH=4500000")
	require.Contains(t, content, "RESOLUTION=1280x720")
	require.Contains(t, content, `CODECS="avc1.64001f,mp4a.40.2"`)
	require.Contains(t, content, "media.m3u8")
}
