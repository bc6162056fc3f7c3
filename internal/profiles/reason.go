package profiles

import (
	"strings"

	"github.com/nexamediaserver/server/internal/media"
)

// TranscodeReason is a bit set of why direct play was refused.
type TranscodeReason int64

const (
	ReasonContainerNotSupported TranscodeReason = 1 << iota
	ReasonVideoCodecNotSupported
	ReasonAudioCodecNotSupported
	ReasonSecondaryAudioNotSupported

	ReasonVideoProfileNotSupported
	ReasonVideoLevelNotSupported
	ReasonVideoResolutionNotSupported
	ReasonVideoBitDepthNotSupported
	ReasonVideoFramerateNotSupported
	ReasonVideoRangeTypeNotSupported
	ReasonAnamorphicVideoNotSupported
	ReasonInterlacedVideoNotSupported

	ReasonAudioChannelsNotSupported
	ReasonAudioProfileNotSupported
	ReasonAudioSampleRateNotSupported
	ReasonAudioBitDepthNotSupported

	ReasonContainerBitrateExceedsLimit
	ReasonVideoBitrateNotSupported
	ReasonAudioBitrateNotSupported

	ReasonUnknownVideoStreamInfo
	ReasonUnknownAudioStreamInfo
)

var reasonNames = []struct {
	r    TranscodeReason
	name string
}{
	{ReasonContainerNotSupported, "ContainerNotSupported"},
	{ReasonVideoCodecNotSupported, "VideoCodecNotSupported"},
	{ReasonAudioCodecNotSupported, "AudioCodecNotSupported"},
	{ReasonSecondaryAudioNotSupported, "SecondaryAudioNotSupported"},
	{ReasonVideoProfileNotSupported, "VideoProfileNotSupported"},
	{ReasonVideoLevelNotSupported, "VideoLevelNotSupported"},
	{ReasonVideoResolutionNotSupported, "VideoResolutionNotSupported"},
	{ReasonVideoBitDepthNotSupported, "VideoBitDepthNotSupported"},
	{ReasonVideoFramerateNotSupported, "VideoFramerateNotSupported"},
	{ReasonVideoRangeTypeNotSupported, "VideoRangeTypeNotSupported"},
	{ReasonAnamorphicVideoNotSupported, "AnamorphicVideoNotSupported"},
	{ReasonInterlacedVideoNotSupported, "InterlacedVideoNotSupported"},
	{ReasonAudioChannelsNotSupported, "AudioChannelsNotSupported"},
	{ReasonAudioProfileNotSupported, "AudioProfileNotSupported"},
	{ReasonAudioSampleRateNotSupported, "AudioSampleRateNotSupported"},
	{ReasonAudioBitDepthNotSupported, "AudioBitDepthNotSupported"},
	{ReasonContainerBitrateExceedsLimit, "ContainerBitrateExceedsLimit"},
	{ReasonVideoBitrateNotSupported, "VideoBitrateNotSupported"},
	{ReasonAudioBitrateNotSupported, "AudioBitrateNotSupported"},
	{ReasonUnknownVideoStreamInfo, "UnknownVideoStreamInfo"},
	{ReasonUnknownAudioStreamInfo, "UnknownAudioStreamInfo"},
}

// Has reports whether r contains flag.
func (r TranscodeReason) Has(flag TranscodeReason) bool {
	return r&flag != 0
}

// String renders the set as a comma-joined list of reason names.
func (r TranscodeReason) String() string {
	if r == 0 {
		return "None"
	}
	var parts []string
	for _, entry := range reasonNames {
		if r&entry.r != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ",")
}

// ReasonForProperty maps a failed condition's property to its reason flag.
func ReasonForProperty(prop media.PropertyID) TranscodeReason {
	switch prop {
	case media.PropContainer:
		return ReasonContainerNotSupported
	case media.PropVideoCodec:
		return ReasonVideoCodecNotSupported
	case media.PropAudioCodec:
		return ReasonAudioCodecNotSupported
	case media.PropIsSecondaryAudio, media.PropNumAudioStreams:
		return ReasonSecondaryAudioNotSupported
	case media.PropVideoProfile:
		return ReasonVideoProfileNotSupported
	case media.PropVideoLevel:
		return ReasonVideoLevelNotSupported
	case media.PropWidth, media.PropHeight:
		return ReasonVideoResolutionNotSupported
	case media.PropVideoBitDepth:
		return ReasonVideoBitDepthNotSupported
	case media.PropVideoFramerate:
		return ReasonVideoFramerateNotSupported
	case media.PropVideoRangeType:
		return ReasonVideoRangeTypeNotSupported
	case media.PropIsAnamorphic:
		return ReasonAnamorphicVideoNotSupported
	case media.PropIsInterlaced:
		return ReasonInterlacedVideoNotSupported
	case media.PropAudioChannels:
		return ReasonAudioChannelsNotSupported
	case media.PropAudioProfile:
		return ReasonAudioProfileNotSupported
	case media.PropAudioSampleRate:
		return ReasonAudioSampleRateNotSupported
	case media.PropAudioBitDepth:
		return ReasonAudioBitDepthNotSupported
	case media.PropTotalBitrate:
		return ReasonContainerBitrateExceedsLimit
	case media.PropVideoBitrate:
		return ReasonVideoBitrateNotSupported
	case media.PropAudioBitrate:
		return ReasonAudioBitrateNotSupported
	}
	return 0
}
