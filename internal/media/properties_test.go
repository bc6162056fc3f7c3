package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveKnownProperties(t *testing.T) {
	t.Parallel()

	p := Properties{
		Container:       "mkv",
		VideoCodec:      "hevc",
		VideoBitrate:    Int64(40_000_000),
		Width:           Int(3840),
		Height:          Int(2160),
		IsInterlaced:    true,
		AudioCodec:      "ac3",
		AudioChannels:   Int(6),
		VideoRangeType:  "HDR10",
		NumVideoStreams: 1,
		NumAudioStreams: 2,
	}

	v, ok := p.Resolve(PropContainer)
	require.True(t, ok)
	require.Equal(t, "mkv", v.Str)
	require.Nil(t, v.Numeric)

	v, ok = p.Resolve(PropVideoBitrate)
	require.True(t, ok)
	require.NotNil(t, v.Numeric)
	require.Equal(t, float64(40_000_000), *v.Numeric)

	v, ok = p.Resolve(PropIsInterlaced)
	require.True(t, ok)
	require.Equal(t, "true", v.Str)

	v, ok = p.Resolve(PropAudioChannels)
	require.True(t, ok)
	require.Equal(t, "6", v.Str)
	require.Equal(t, float64(6), *v.Numeric)
}

func TestResolveAbsentNumericIsNil(t *testing.T) {
	t.Parallel()

	p := Properties{Container: "mp4"}
	v, ok := p.Resolve(PropVideoBitrate)
	require.True(t, ok)
	require.Nil(t, v.Numeric)
	require.Empty(t, v.Str)
}

func TestResolveUnknownProperty(t *testing.T) {
	t.Parallel()

	p := Properties{}
	_, ok := p.Resolve(PropertyID("NoSuchProperty"))
	require.False(t, ok)
}

func TestIsHDR(t *testing.T) {
	t.Parallel()

	require.True(t, Properties{VideoRangeType: "HDR10"}.IsHDR())
	require.True(t, Properties{VideoRangeType: "HLG"}.IsHDR())
	require.False(t, Properties{VideoRangeType: "SDR"}.IsHDR())
	require.False(t, Properties{}.IsHDR())
}

func TestCanonicalContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"matroska,webm", "mkv"},
		{"mov,mp4,m4a,3gp,3g2,mj2", "mp4"},
		{"mpegts", "ts"},
		{"avi", "avi"},
		{"", ""},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, canonicalContainer(tc.in), "format_name=%q", tc.in)
	}
}
