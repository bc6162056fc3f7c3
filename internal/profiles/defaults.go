package profiles

import "github.com/nexamediaserver/server/internal/media"

// DefaultDeviceProfile is the server-side fallback for clients that declare
// nothing: a conservative h264/aac-in-mp4 browser profile with an HLS
// transcode target.
func DefaultDeviceProfile() *DeviceProfile {
	return &DeviceProfile{
		Name:                "generic-browser",
		MaxStreamingBitrate: 20_000_000,
		MaxStaticBitrate:    40_000_000,
		DirectPlayProfiles: []DirectPlayProfile{
			{
				Type:        media.TypeVideo,
				Containers:  "mp4,m4v",
				VideoCodecs: "h264",
				AudioCodecs: "aac,mp3",
			},
			{
				Type:        media.TypeAudio,
				Containers:  "mp3,flac,ogg",
				AudioCodecs: "mp3,flac,vorbis",
			},
		},
		TranscodingProfiles: []TranscodingProfile{
			{
				Type:           media.TypeVideo,
				Container:      "ts",
				Context:        ContextStreaming,
				Protocol:       "hls",
				VideoCodec:     "h264",
				AudioCodec:     "aac",
				SegmentSeconds: 6,
			},
			{
				Type:       media.TypeAudio,
				Container:  "mp3",
				Context:    ContextStreaming,
				Protocol:   "http",
				AudioCodec: "mp3",
			},
		},
		CodecProfiles: []CodecProfile{
			{
				Type:   media.TypeVideo,
				Codecs: "h264",
				Conditions: []Condition{
					{
						Property:                 media.PropVideoLevel,
						Comparison:               CompareLessThanEqual,
						Value:                    "5.2",
						IsRequired:               false,
						IsRequiredForTranscoding: true,
					},
				},
			},
			{
				Type:   media.TypeAudio,
				Codecs: "aac",
				Conditions: []Condition{
					{
						Property:   media.PropAudioChannels,
						Comparison: CompareLessThanEqual,
						Value:      "6",
						IsRequired: true,
					},
				},
			},
		},
		SubtitleProfiles: []SubtitleProfile{
			{Format: "vtt", Method: "external"},
			{Format: "srt", Method: "external"},
		},
	}
}
