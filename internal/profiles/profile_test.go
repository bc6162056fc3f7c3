package profiles

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server/internal/media"
)

func TestCsvContains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		set   string
		value string
		want  bool
	}{
		{"member", "mp4,mkv,ts", "mkv", true},
		{"case insensitive", "MP4,MKV", "mkv", true},
		{"whitespace tolerated", "mp4, mkv , ts", "mkv", true},
		{"not member", "mp4,ts", "mkv", false},
		{"empty set matches anything", "", "mkv", true},
		{"value case folded", "mp4", "MP4", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, csvContains(tc.set, tc.value))
		})
	}
}

func TestDirectPlayProfileMembership(t *testing.T) {
	t.Parallel()

	d := DirectPlayProfile{
		Type:        media.TypeVideo,
		Containers:  "mp4,m4v",
		VideoCodecs: "h264",
		AudioCodecs: "aac,mp3",
	}
	require.True(t, d.SupportsContainer("mp4"))
	require.False(t, d.SupportsContainer("mkv"))
	require.True(t, d.SupportsVideoCodec("H264"))
	require.False(t, d.SupportsVideoCodec("hevc"))
	require.True(t, d.SupportsAudioCodec("mp3"))
}

func TestCodecProfileAppliesToCodec(t *testing.T) {
	t.Parallel()

	require.True(t, CodecProfile{Codecs: ""}.AppliesToCodec("h264"))
	require.True(t, CodecProfile{Codecs: "h264,hevc"}.AppliesToCodec("hevc"))
	require.False(t, CodecProfile{Codecs: "h264"}.AppliesToCodec("av1"))
}

func TestTranscodeReasonString(t *testing.T) {
	t.Parallel()

	r := ReasonContainerNotSupported | ReasonVideoBitrateNotSupported
	require.True(t, r.Has(ReasonContainerNotSupported))
	require.False(t, r.Has(ReasonAudioCodecNotSupported))
	require.Equal(t, "ContainerNotSupported,VideoBitrateNotSupported", r.String())
	require.Equal(t, "None", TranscodeReason(0).String())
}

func TestDefaultDeviceProfileShape(t *testing.T) {
	t.Parallel()

	p := DefaultDeviceProfile()
	require.NotEmpty(t, p.DirectPlayProfiles)
	require.NotEmpty(t, p.TranscodingProfiles)
	require.Equal(t, "hls", p.TranscodingProfiles[0].Protocol)
	require.Equal(t, media.TypeVideo, p.TranscodingProfiles[0].Type)
}
