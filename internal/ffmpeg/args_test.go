package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
)

func argsAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestBuildHLSArgsTranscode(t *testing.T) {
	t.Parallel()

	args := BuildHLSArgs(
		InputSpec{Path: "/media/movie.mkv", StartSeconds: 42.5},
		VideoSpec{Encoder: "libx264", Filter: "scale=1280:720:flags=lanczos", Preset: "veryfast", Bitrate: 4_000_000},
		AudioSpec{Encoder: "aac", Bitrate: 192_000, Channels: 2},
		HLSSpec{
			PlaylistPath:   "/tmp/s1/media.m3u8.tmp",
			SegmentPattern: "/tmp/s1/seg%05d.ts",
			SegmentSeconds: 6,
			StartNumber:    7,
		},
	)

	joined := strings.Join(args, " ")
	require.Equal(t, "42.500", argsAfter(t, args, "-ss"))
	require.Equal(t, "/media/movie.mkv", argsAfter(t, args, "-i"))
	require.Equal(t, "libx264", argsAfter(t, args, "-c:v"))
	require.Equal(t, "scale=1280:720:flags=lanczos", argsAfter(t, args, "-vf"))
	require.Equal(t, "expr:gte(t,n_forced*6)", argsAfter(t, args, "-force_key_frames"))
	require.Equal(t, "aac", argsAfter(t, args, "-c:a"))
	require.Equal(t, "7", argsAfter(t, args, "-start_number"))
	require.Equal(t, "vod", argsAfter(t, args, "-hls_playlist_type"))
	require.Equal(t, "0", argsAfter(t, args, "-hls_list_size"))
	require.True(t, strings.HasSuffix(joined, "/tmp/s1/media.m3u8.tmp"))

	// Seek must precede the input so the demuxer opens at the keyframe.
	require.Less(t, indexOf(args, "-ss"), indexOf(args, "-i"))
}

func TestBuildHLSArgsStreamCopy(t *testing.T) {
	t.Parallel()

	args := BuildHLSArgs(
		InputSpec{Path: "/media/show.mp4"},
		VideoSpec{Copy: true},
		AudioSpec{Copy: true},
		HLSSpec{PlaylistPath: "/tmp/s2/media.m3u8.tmp", SegmentPattern: "/tmp/s2/seg%05d.ts"},
	)

	require.Equal(t, "copy", argsAfter(t, args, "-c:v"))
	require.Equal(t, "copy", argsAfter(t, args, "-c:a"))
	require.NotContains(t, args, "-ss")
	require.NotContains(t, args, "-force_key_frames")
}

func TestBuildHLSArgsVAAPIInit(t *testing.T) {
	t.Parallel()

	args := BuildHLSArgs(
		InputSpec{Path: "/media/a.mkv", Accel: capabilities.AccelVAAPI, HWDecode: true},
		VideoSpec{Encoder: "h264_vaapi"},
		AudioSpec{Encoder: "aac"},
		HLSSpec{PlaylistPath: "p", SegmentPattern: "s"},
	)

	require.Equal(t, "vaapi=va:/dev/dri/renderD128", argsAfter(t, args, "-init_hw_device"))
	require.Equal(t, "vaapi", argsAfter(t, args, "-hwaccel"))
	require.Equal(t, "vaapi", argsAfter(t, args, "-hwaccel_output_format"))
	// Device init must come before the input.
	require.Less(t, indexOf(args, "-init_hw_device"), indexOf(args, "-i"))
}

func TestBuildRemuxArgs(t *testing.T) {
	t.Parallel()

	args := BuildRemuxArgs(InputSpec{Path: "/media/b.mkv", StartSeconds: 10}, "mp4")
	require.Equal(t, "copy", argsAfter(t, args, "-c"))
	require.Equal(t, "mp4", argsAfter(t, args, "-f"))
	require.Contains(t, argsAfter(t, args, "-movflags"), "frag_keyframe")
	require.Equal(t, "pipe:1", args[len(args)-1])

	ts := BuildRemuxArgs(InputSpec{Path: "/media/b.mkv"}, "ts")
	require.Equal(t, "mpegts", argsAfter(t, ts, "-f"))
	require.NotContains(t, ts, "-ss")
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}
