package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGopPackets(t *testing.T) {
	t.Parallel()

	// pts_time,duration_time,size,flags
	raw := []byte("" +
		"0.000000,0.040000,102400,K__\n" +
		"0.040000,0.040000,2048,___\n" +
		"2.000000,0.040000,98304,K__\n" +
		"2.040000,0.040000,1024,___\n" +
		"4.000000,0.040000,97280,K__\n" +
		"N/A,0.040000,512,K__\n")

	idx, err := parseGopPackets(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, idx.Groups, 3)

	require.Equal(t, int64(0), idx.Groups[0].PtsMs)
	require.Equal(t, int64(2000), idx.Groups[1].PtsMs)
	require.Equal(t, int64(4000), idx.Groups[2].PtsMs)

	// span between keyframes becomes the group duration
	require.Equal(t, int64(2000), idx.Groups[0].DurationMs)
	require.Equal(t, int64(2000), idx.Groups[1].DurationMs)
	require.Equal(t, int64(102400), idx.Groups[0].SizeBytes)
}

func TestSnapToKeyframe(t *testing.T) {
	t.Parallel()

	idx := &GopIndex{
		TimebaseNum: 1,
		TimebaseDen: 1000,
		Groups: []GopGroup{
			{PtsMs: 0},
			{PtsMs: 2000},
			{PtsMs: 4000},
			{PtsMs: 6000},
		},
	}

	tests := []struct {
		name   string
		seekMs int64
		want   int64
	}{
		{"exact keyframe", 2000, 2000},
		{"between keyframes snaps back", 3500, 2000},
		{"just before keyframe", 1999, 0},
		{"past the end snaps to last", 60000, 6000},
		{"zero", 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, idx.SnapToKeyframe(tc.seekMs))
		})
	}
}

func TestSnapToKeyframeEmpty(t *testing.T) {
	t.Parallel()
	idx := &GopIndex{}
	require.Equal(t, int64(0), idx.SnapToKeyframe(1234))
}
