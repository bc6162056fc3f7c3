//go:build unix

package remux

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamExitStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	// A clean exit is a finished stream.
	ok := New("true")
	require.NoError(t, ok.Stream(context.Background(), &buf, "/media/in.mkv", "mp4", 0))

	// A failed exit with a live client is a real error.
	bad := New("false")
	require.Error(t, bad.Stream(context.Background(), &buf, "/media/in.mkv", "mp4", 0))
}

func TestStreamClientGone(t *testing.T) {
	t.Parallel()

	r := New("sleep")
	ctx, cancel := context.WithCancel(context.Background())

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- r.Stream(ctx, &buf, "30", "mp4", 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "client disconnect is not an error")
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "video/mp4", ContentType("mp4"))
	require.Equal(t, "video/mp2t", ContentType("ts"))
	require.Equal(t, "application/octet-stream", ContentType("weird"))
}
