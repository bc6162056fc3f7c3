// Package media models source media properties and keyframe indexes.
package media

import (
	"strconv"
	"strings"
)

// MediaType distinguishes video from audio playback flows.
type MediaType string

const (
	TypeVideo MediaType = "video"
	TypeAudio MediaType = "audio"
)

// Properties is a flattened, read-only snapshot of one source's stream
// attributes. It is derived on demand from a probe result and never mutated
// afterwards. Numeric fields that a probe may legitimately fail to produce
// are pointers so that "absent" stays distinguishable from zero.
type Properties struct {
	Container string

	VideoCodec     string
	VideoProfile   string
	VideoLevel     *float64
	VideoBitDepth  *int
	Width          *int
	Height         *int
	VideoBitrate   *int64
	VideoFramerate *float64
	IsInterlaced   bool
	IsAnamorphic   bool
	VideoRangeType string // "SDR", "HDR10", "HLG", "DOVI"

	AudioCodec       string
	AudioProfile     string
	AudioChannels    *int
	AudioSampleRate  *int
	AudioBitDepth    *int
	AudioBitrate     *int64
	IsSecondaryAudio bool

	TotalBitrate    *int64
	NumVideoStreams int
	NumAudioStreams int

	DurationMs int64
}

// IsHDR reports whether the source carries a high-dynamic-range transfer.
func (p Properties) IsHDR() bool {
	switch strings.ToUpper(p.VideoRangeType) {
	case "HDR10", "HDR10+", "HLG", "DOVI":
		return true
	}
	return false
}

// Rotation metadata is carried separately from Properties because it comes
// from a display matrix side channel, not a stream attribute.

// PropertyID enumerates the condition-addressable properties. Profile data
// references properties by these names; resolution is a closed switch, not
// reflection.
type PropertyID string

const (
	PropContainer        PropertyID = "Container"
	PropVideoCodec       PropertyID = "VideoCodec"
	PropVideoProfile     PropertyID = "VideoProfile"
	PropVideoLevel       PropertyID = "VideoLevel"
	PropVideoBitDepth    PropertyID = "VideoBitDepth"
	PropVideoBitrate     PropertyID = "VideoBitrate"
	PropVideoFramerate   PropertyID = "VideoFramerate"
	PropVideoRangeType   PropertyID = "VideoRangeType"
	PropWidth            PropertyID = "Width"
	PropHeight           PropertyID = "Height"
	PropIsAnamorphic     PropertyID = "IsAnamorphic"
	PropIsInterlaced     PropertyID = "IsInterlaced"
	PropAudioCodec       PropertyID = "AudioCodec"
	PropAudioProfile     PropertyID = "AudioProfile"
	PropAudioChannels    PropertyID = "AudioChannels"
	PropAudioSampleRate  PropertyID = "AudioSampleRate"
	PropAudioBitDepth    PropertyID = "AudioBitDepth"
	PropAudioBitrate     PropertyID = "AudioBitrate"
	PropIsSecondaryAudio PropertyID = "IsSecondaryAudio"
	PropTotalBitrate     PropertyID = "TotalBitrate"
	PropNumVideoStreams  PropertyID = "NumVideoStreams"
	PropNumAudioStreams  PropertyID = "NumAudioStreams"
)

// Value is the resolved form of a property: a string rendering for set and
// regex comparisons, and an optional numeric rendering for ordered
// comparisons. Numeric == nil means the property is absent on this source.
type Value struct {
	Str     string
	Numeric *float64
}

// Resolve maps a property name to its value on p. The second return is false
// for unknown property names.
func (p Properties) Resolve(id PropertyID) (Value, bool) {
	switch id {
	case PropContainer:
		return strValue(p.Container), true
	case PropVideoCodec:
		return strValue(p.VideoCodec), true
	case PropVideoProfile:
		return strValue(p.VideoProfile), true
	case PropVideoLevel:
		return floatValue(p.VideoLevel), true
	case PropVideoBitDepth:
		return intValue(p.VideoBitDepth), true
	case PropVideoBitrate:
		return int64Value(p.VideoBitrate), true
	case PropVideoFramerate:
		return floatValue(p.VideoFramerate), true
	case PropVideoRangeType:
		return strValue(p.VideoRangeType), true
	case PropWidth:
		return intValue(p.Width), true
	case PropHeight:
		return intValue(p.Height), true
	case PropIsAnamorphic:
		return boolValue(p.IsAnamorphic), true
	case PropIsInterlaced:
		return boolValue(p.IsInterlaced), true
	case PropAudioCodec:
		return strValue(p.AudioCodec), true
	case PropAudioProfile:
		return strValue(p.AudioProfile), true
	case PropAudioChannels:
		return intValue(p.AudioChannels), true
	case PropAudioSampleRate:
		return intValue(p.AudioSampleRate), true
	case PropAudioBitDepth:
		return intValue(p.AudioBitDepth), true
	case PropAudioBitrate:
		return int64Value(p.AudioBitrate), true
	case PropIsSecondaryAudio:
		return boolValue(p.IsSecondaryAudio), true
	case PropTotalBitrate:
		return int64Value(p.TotalBitrate), true
	case PropNumVideoStreams:
		n := float64(p.NumVideoStreams)
		return Value{Str: strconv.Itoa(p.NumVideoStreams), Numeric: &n}, true
	case PropNumAudioStreams:
		n := float64(p.NumAudioStreams)
		return Value{Str: strconv.Itoa(p.NumAudioStreams), Numeric: &n}, true
	}
	return Value{}, false
}

func strValue(s string) Value {
	return Value{Str: s}
}

func boolValue(b bool) Value {
	if b {
		return Value{Str: "true"}
	}
	return Value{Str: "false"}
}

func intValue(v *int) Value {
	if v == nil {
		return Value{}
	}
	n := float64(*v)
	return Value{Str: strconv.Itoa(*v), Numeric: &n}
}

func int64Value(v *int64) Value {
	if v == nil {
		return Value{}
	}
	n := float64(*v)
	return Value{Str: strconv.FormatInt(*v, 10), Numeric: &n}
}

func floatValue(v *float64) Value {
	if v == nil {
		return Value{}
	}
	n := *v
	return Value{Str: strconv.FormatFloat(*v, 'f', -1, 64), Numeric: &n}
}

// Int returns a pointer to v, for building Properties literals.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
