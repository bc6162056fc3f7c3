package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server/internal/config"
	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
	"github.com/nexamediaserver/server/internal/hls"
	"github.com/nexamediaserver/server/internal/library"
	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/remux"
)

type failProber struct{}

func (failProber) Probe(context.Context, string) (*media.ProbeResult, error) {
	return nil, errors.New("probe should not run in these tests")
}

// fakeTranscoder writes a plausible session output tree on Start and stays
// "running" until stopped.
type fakeTranscoder struct {
	done chan error
}

func (f *fakeTranscoder) Start(_ context.Context, _ []string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:6.0,\nseg00000.ts\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(filepath.Join(dir, "media.m3u8"), []byte(playlist), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "seg00000.ts"), []byte("segdata"), 0o644)
}

func (f *fakeTranscoder) Done() <-chan error { return f.done }

func (f *fakeTranscoder) Stop() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *fakeTranscoder) LastLogLines(int) []string { return nil }

type fixedIndexer struct {
	idx *media.GopIndex
}

func (f fixedIndexer) Index(context.Context, string) (*media.GopIndex, error) {
	return f.idx, nil
}

func testServer(t *testing.T) (*Server, *library.Store) {
	t.Helper()

	store, err := library.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := &media.GopIndex{Groups: []media.GopGroup{
		{PtsMs: 0, DurationMs: 6000},
		{PtsMs: 6000, DurationMs: 6000},
		{PtsMs: 12000, DurationMs: 6000},
	}}
	mat := hls.NewMaterializer(hls.Config{
		Root:       t.TempDir(),
		NewProcess: func() hls.Process { return &fakeTranscoder{done: make(chan error)} },
	}, nil, fixedIndexer{idx: idx})
	t.Cleanup(mat.Close)

	cfg := config.Config{SegmentWait: 2 * time.Second}
	caps := capabilities.NewSnapshot("6.1", nil, []string{"libx264", "aac"}, nil, nil)
	caps.Recommended = capabilities.AccelNone

	srv := NewServer(cfg, library.NewService(store, failProber{}), mat, remux.New("ffmpeg"), caps)
	return srv, store
}

func addProbedPart(t *testing.T, store *library.Store, props media.Properties) *library.Part {
	t.Helper()
	ctx := context.Background()
	p, err := store.Add(ctx, filepath.Join(t.TempDir(), "source.mkv"), media.TypeVideo)
	require.NoError(t, err)
	require.NoError(t, store.SetProperties(ctx, p.ID, props, 0))
	p, err = store.Get(ctx, p.ID)
	require.NoError(t, err)
	return p
}

func directPlayProps() media.Properties {
	return media.Properties{
		Container:       "mp4",
		VideoCodec:      "h264",
		VideoProfile:    "high",
		VideoLevel:      media.Float(4.1),
		Width:           media.Int(1920),
		Height:          media.Int(1080),
		VideoBitrate:    media.Int64(6_000_000),
		AudioCodec:      "aac",
		AudioChannels:   media.Int(2),
		TotalBitrate:    media.Int64(6_500_000),
		NumVideoStreams: 1,
		NumAudioStreams: 1,
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDecisionEndpoint(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/decision", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "direct", summary.Path)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestDecisionPartNotFound(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/nope/decision", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSegmentTraversalRejected(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	for _, name := range []string{"a..b.ts", "seg%2e%2e.ts", "seg$0.ts", ".hidden"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/"+name, nil)
		srv.Router().ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code, "name %q", name)
	}
}

func TestMasterSeekSnapsAndReportsHeader(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/master.m3u8?seekMs=9500", nil)
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// 9500ms snaps back to the keyframe at 6000ms.
	require.Equal(t, "6000", rec.Header().Get(HeaderHLSStartTime))
	require.Contains(t, rec.Body.String(), "#EXT-X-STREAM-INF")
	require.Contains(t, rec.Body.String(), "9500/playlist.m3u8")
}

func TestVariantPlaylistAndSegmentServed(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/playlist.m3u8", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "#EXTM3U")

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/seg00000.ts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "segdata", rec.Body.String())
}

func TestSessionStatus(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	// No session yet.
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/playlist.m3u8", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/0/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		State    string `json:"state"`
		Progress struct {
			Segments int  `json:"segments"`
			Complete bool `json:"complete"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 1, status.Progress.Segments)
	require.True(t, status.Progress.Complete)
}

func TestInvalidSeekRejected(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/hls/master.m3u8?seekMs=-4", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemuxUnsupportedContainer(t *testing.T) {
	srv, store := testServer(t)
	p := addProbedPart(t, store, directPlayProps())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/part/"+p.ID+"/remux.avi", nil))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestIsSafeSegmentName(t *testing.T) {
	t.Parallel()

	require.True(t, isSafeSegmentName("seg00001.ts"))
	require.True(t, isSafeSegmentName("media.m3u8"))
	require.False(t, isSafeSegmentName(""))
	require.False(t, isSafeSegmentName(".hidden"))
	require.False(t, isSafeSegmentName("a/b.ts"))
}

func TestIsPathTraversal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"seg00001.ts", false},
		{"../etc/passwd", true},
		{"%2e%2e%2fetc", true},
		{"%252e%252e", true},
		{"seg\x00.ts", true},
		{"a..b", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, isPathTraversal(tc.in), "input %q", tc.in)
	}
}
