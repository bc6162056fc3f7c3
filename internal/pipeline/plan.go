// Package pipeline turns a playback decision into a concrete encode recipe:
// encoder selection, hardware placement and the rendered filter chain.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nexamediaserver/server/internal/decision"
	"github.com/nexamediaserver/server/internal/ffmpeg"
	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/metrics"
	"github.com/nexamediaserver/server/internal/pipeline/filters"
	"github.com/nexamediaserver/server/internal/profiles"
)

const (
	// maxTargetWidth caps the encode resolution; sources above it are
	// scaled down preserving aspect.
	maxTargetWidth  = 1920
	maxTargetHeight = 1080

	defaultVideoBitrate = 8_000_000
	defaultAudioBitrate = 192_000
)

// Input is everything plan construction needs, gathered by the caller.
type Input struct {
	Props    media.Properties
	Rotation int
	Device   *profiles.DeviceProfile
	Decision decision.Output
	Caps     *capabilities.Snapshot
}

// Plan is the concrete recipe the materializer launches.
type Plan struct {
	Video ffmpeg.VideoSpec
	Audio ffmpeg.AudioSpec

	Accel    capabilities.Acceleration
	HWDecode bool

	Container      string
	SegmentSeconds int
}

// Build derives a Plan for a transcode decision. When the hardware filter
// chain fails validation the whole pipeline is rebuilt in software; only
// when that also fails is the error surfaced.
func Build(in Input) (Plan, error) {
	if in.Decision.Path != decision.PathTranscode || in.Decision.Profile == nil {
		return Plan{}, fmt.Errorf("pipeline: decision path %q has no transcode target", in.Decision.Path)
	}
	profile := in.Decision.Profile

	accel := capabilities.AccelNone
	if in.Caps != nil {
		accel = in.Caps.Recommended
	}
	hwEncode := accel != capabilities.AccelNone &&
		in.Caps.SupportsEncoder(capabilities.EncoderFor(profile.VideoCodec, accel))
	hwDecode := hwEncode && in.Caps.SupportsHWAccel(capabilities.HWAccelName(accel))

	fctx := filterContext(in, accel, hwDecode, hwEncode)
	chain, err := filters.Build(fctx, filters.DefaultChain())
	if err != nil {
		if !errors.Is(err, filters.ErrRequiresSoftwareFallback) {
			return Plan{}, err
		}
		metrics.IncPipelineFallback(string(accel))
		logger := log.WithComponent("pipeline")
		logger.Warn().
			Str(log.FieldAccel, string(accel)).
			Str(log.FieldCodec, in.Props.VideoCodec).
			Msg("hardware filter chain rejected, rebuilding in software")
		accel, hwDecode, hwEncode = capabilities.AccelNone, false, false
		fctx = filterContext(in, accel, hwDecode, hwEncode)
		chain, err = filters.Build(fctx, filters.DefaultChain())
		if err != nil {
			return Plan{}, err
		}
	}

	videoBitrate := targetVideoBitrate(in.Props, in.Device)
	plan := Plan{
		Video: ffmpeg.VideoSpec{
			Encoder: capabilities.EncoderFor(profile.VideoCodec, accel),
			Bitrate: videoBitrate,
			MaxRate: videoBitrate,
			BufSize: 2 * videoBitrate,
			Preset:  "veryfast",
			Filter:  chain,
		},
		Audio:          audioSpec(in.Props, profile.AudioCodec, profile.MaxAudioChannels),
		Accel:          accel,
		HWDecode:       hwDecode,
		Container:      profile.Container,
		SegmentSeconds: profile.SegmentSeconds,
	}
	if plan.Video.Encoder == "" {
		return Plan{}, fmt.Errorf("pipeline: no encoder for target codec %q", profile.VideoCodec)
	}
	if plan.SegmentSeconds <= 0 {
		plan.SegmentSeconds = 6
	}
	return plan, nil
}

func filterContext(in Input, accel capabilities.Acceleration, hwDecode, hwEncode bool) *filters.Context {
	props := in.Props
	srcW, srcH := 0, 0
	if props.Width != nil {
		srcW = *props.Width
	}
	if props.Height != nil {
		srcH = *props.Height
	}
	dstW, dstH := fitWithin(srcW, srcH, maxTargetWidth, maxTargetHeight)

	// Tonemapped output drops to 8-bit; otherwise the source depth is kept
	// up to 10.
	bitDepth := 8
	if props.VideoBitDepth != nil && *props.VideoBitDepth > 8 && !props.IsHDR() {
		bitDepth = 10
	}

	return &filters.Context{
		SrcWidth:       srcW,
		SrcHeight:      srcH,
		DstWidth:       dstW,
		DstHeight:      dstH,
		Rotation:       in.Rotation,
		Interlaced:     props.IsInterlaced,
		HDR:            props.IsHDR(),
		TonemapToSDR:   props.IsHDR(),
		TargetBitDepth: bitDepth,
		Accel:          accel,
		HWDecode:       hwDecode,
		HWEncode:       hwEncode,
		Caps:           in.Caps,
	}
}

// fitWithin scales src down to fit the bounding box, preserving aspect.
// Sources already inside the box pass through unchanged.
func fitWithin(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	if srcW <= maxW && srcH <= maxH {
		return srcW, srcH
	}
	w, h := maxW, srcH*maxW/srcW
	if h > maxH {
		w, h = srcW*maxH/srcH, maxH
	}
	return w &^ 1, h &^ 1
}

func targetVideoBitrate(props media.Properties, device *profiles.DeviceProfile) int64 {
	target := int64(defaultVideoBitrate)
	if props.VideoBitrate != nil && *props.VideoBitrate > 0 && *props.VideoBitrate < target {
		target = *props.VideoBitrate
	}
	if device != nil && device.MaxStreamingBitrate > 0 {
		if budget := device.MaxStreamingBitrate - defaultAudioBitrate; budget < target {
			target = budget
		}
	}
	if target < 100_000 {
		target = 100_000
	}
	return target
}

func audioSpec(props media.Properties, targetCodec string, maxChannels int) ffmpeg.AudioSpec {
	first := targetCodec
	if i := strings.IndexByte(first, ','); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimSpace(first)

	channels := 2
	if props.AudioChannels != nil {
		channels = *props.AudioChannels
	}
	overCeiling := maxChannels > 0 && channels > maxChannels
	if overCeiling {
		channels = maxChannels
	}
	// Stream copy when the source already matches the target codec and
	// fits the channel ceiling.
	if !overCeiling && strings.EqualFold(props.AudioCodec, first) {
		return ffmpeg.AudioSpec{Copy: true}
	}

	encoder := "aac"
	switch strings.ToLower(first) {
	case "mp3":
		encoder = "libmp3lame"
	case "ac3":
		encoder = "ac3"
	case "opus":
		encoder = "libopus"
	}
	return ffmpeg.AudioSpec{
		Encoder:  encoder,
		Bitrate:  defaultAudioBitrate,
		Channels: channels,
	}
}
