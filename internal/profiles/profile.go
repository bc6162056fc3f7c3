// Package profiles models client playback capability declarations: which
// containers and codecs a device accepts directly, and how it wants
// unsupported media transcoded.
package profiles

import (
	"strings"

	"github.com/nexamediaserver/server/internal/media"
)

// Comparison is the kind of check a Condition applies.
type Comparison string

const (
	CompareEqual            Comparison = "Equal"
	CompareNotEqual         Comparison = "NotEqual"
	CompareLessThanEqual    Comparison = "LessThanEqual"
	CompareGreaterThanEqual Comparison = "GreaterThanEqual"
	CompareEqualsAny        Comparison = "EqualsAny"
	CompareMatches          Comparison = "Matches"
)

// Condition gates a profile on one source property. IsRequired=false marks a
// condition advisory for direct play; IsRequiredForTranscoding promotes it
// back to mandatory when the evaluation is deciding a transcode fallback.
type Condition struct {
	Property                 media.PropertyID `json:"property"`
	Comparison               Comparison       `json:"comparison"`
	Value                    string           `json:"value"`
	IsRequired               bool             `json:"isRequired"`
	IsRequiredForTranscoding bool             `json:"isRequiredForTranscoding"`
}

// EncodingContext distinguishes on-demand streaming output from static file
// conversion.
type EncodingContext string

const (
	ContextStreaming EncodingContext = "streaming"
	ContextStatic    EncodingContext = "static"
)

// DirectPlayProfile declares a set of container/codec combinations the
// client plays unmodified. Containers and codecs are comma-separated sets;
// an empty set means "any".
type DirectPlayProfile struct {
	Type        media.MediaType `json:"type"`
	Containers  string          `json:"containers"`
	VideoCodecs string          `json:"videoCodecs"`
	AudioCodecs string          `json:"audioCodecs"`
}

// SupportsContainer reports comma-set membership, case-insensitive.
func (d DirectPlayProfile) SupportsContainer(container string) bool {
	return csvContains(d.Containers, container)
}

func (d DirectPlayProfile) SupportsVideoCodec(codec string) bool {
	return csvContains(d.VideoCodecs, codec)
}

func (d DirectPlayProfile) SupportsAudioCodec(codec string) bool {
	return csvContains(d.AudioCodecs, codec)
}

// TranscodingProfile declares a target format for media the client cannot
// play directly. ApplyConditions gate whether the profile is eligible for a
// given source at all; they are not direct-play constraints.
type TranscodingProfile struct {
	Type             media.MediaType `json:"type"`
	Container        string          `json:"container"`
	Context          EncodingContext `json:"context"`
	Protocol         string          `json:"protocol"` // "hls" or "http"
	VideoCodec       string          `json:"videoCodec"`
	AudioCodec       string          `json:"audioCodec"`
	MaxAudioChannels int             `json:"maxAudioChannels,omitempty"`
	SegmentSeconds   int             `json:"segmentSeconds,omitempty"`
	ApplyConditions  []Condition     `json:"applyConditions,omitempty"`
}

// CodecProfile attaches conditions to a codec (for example a channel ceiling
// on aac). Codecs is a comma-set; empty applies to every codec of the type.
type CodecProfile struct {
	Type       media.MediaType `json:"type"`
	Codecs     string          `json:"codecs"`
	Conditions []Condition     `json:"conditions"`
}

// AppliesToCodec reports whether this profile constrains the given codec.
func (c CodecProfile) AppliesToCodec(codec string) bool {
	if strings.TrimSpace(c.Codecs) == "" {
		return true
	}
	return csvContains(c.Codecs, codec)
}

// ContainerProfile attaches conditions to a container.
type ContainerProfile struct {
	Type       media.MediaType `json:"type"`
	Containers string          `json:"containers"`
	Conditions []Condition     `json:"conditions"`
}

// SubtitleProfile declares how a subtitle format is delivered.
type SubtitleProfile struct {
	Format string `json:"format"`
	Method string `json:"method"` // "embed", "external", "encode"
}

// ResponseProfile overrides response headers for matching media.
type ResponseProfile struct {
	Type       media.MediaType `json:"type"`
	Containers string          `json:"containers"`
	MimeType   string          `json:"mimeType"`
}

// DeviceProfile is the full client capability declaration. Order inside the
// profile lists is significant: the first matching DirectPlayProfile and the
// first eligible TranscodingProfile win, and that order is client-declared
// policy, not an implementation accident.
type DeviceProfile struct {
	Name string `json:"name,omitempty"`

	MaxStreamingBitrate   int64 `json:"maxStreamingBitrate,omitempty"`
	MaxStaticBitrate      int64 `json:"maxStaticBitrate,omitempty"`
	MusicStreamingBitrate int64 `json:"musicStreamingBitrate,omitempty"`

	DirectPlayProfiles  []DirectPlayProfile  `json:"directPlayProfiles"`
	TranscodingProfiles []TranscodingProfile `json:"transcodingProfiles"`
	CodecProfiles       []CodecProfile       `json:"codecProfiles,omitempty"`
	ContainerProfiles   []ContainerProfile   `json:"containerProfiles,omitempty"`
	SubtitleProfiles    []SubtitleProfile    `json:"subtitleProfiles,omitempty"`
	ResponseProfiles    []ResponseProfile    `json:"responseProfiles,omitempty"`
}

// csvContains reports case-insensitive membership of value in a
// comma-separated set. An empty set matches everything.
func csvContains(set, value string) bool {
	if strings.TrimSpace(set) == "" {
		return true
	}
	value = strings.ToLower(strings.TrimSpace(value))
	for _, item := range strings.Split(set, ",") {
		if strings.ToLower(strings.TrimSpace(item)) == value {
			return true
		}
	}
	return false
}
