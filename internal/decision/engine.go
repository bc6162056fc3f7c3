// Package decision maps source media properties and a client device profile
// onto a playback path: direct play, remux, transcode or reject.
package decision

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/metrics"
	"github.com/nexamediaserver/server/internal/profiles"
)

type Path string

const (
	PathDirectPlay Path = "direct"
	PathRemux      Path = "remux"
	PathTranscode  Path = "transcode"
	PathReject     Path = "reject"
)

type Input struct {
	Properties media.Properties
	MediaType  media.MediaType
	Device     *profiles.DeviceProfile
}

type Output struct {
	Path    Path
	Reasons profiles.TranscodeReason

	// FailedConditions carries one readable description per failing check,
	// in evaluation order. It mirrors Reasons but keeps the detail the bit
	// flags throw away.
	FailedConditions []string

	// Profile is the transcoding target, set only for PathTranscode.
	Profile *profiles.TranscodingProfile
}

// EvaluationResult pairs the objection flags with their per-condition
// descriptions.
type EvaluationResult struct {
	Reasons          profiles.TranscodeReason
	FailedConditions []string
}

// Decide evaluates the full playback decision for one media part.
func Decide(in Input) Output {
	res := Evaluate(in.Properties, in.Device, in.MediaType, false)
	out := decidePath(in, res)
	metrics.RecordDecision(string(out.Path), out.Reasons.String())

	logger := log.WithComponent("decision")
	logger.Debug().
		Str("path", string(out.Path)).
		Str(log.FieldContainer, in.Properties.Container).
		Str(log.FieldCodec, in.Properties.VideoCodec).
		Str("reasons", out.Reasons.String()).
		Msg("playback decision")
	return out
}

func decidePath(in Input, res EvaluationResult) Output {
	if res.Reasons == 0 {
		return Output{Path: PathDirectPlay}
	}

	// When every objection is about the container, the streams themselves
	// are fine and a rewrap avoids re-encoding entirely.
	const containerOnly = profiles.ReasonContainerNotSupported |
		profiles.ReasonSecondaryAudioNotSupported
	if res.Reasons&^containerOnly == 0 && remuxViable(in.Device, in.MediaType, in.Properties) {
		return Output{Path: PathRemux, Reasons: res.Reasons, FailedConditions: res.FailedConditions}
	}

	profile := SelectTranscodingProfile(in.Device, in.MediaType, in.Properties)
	if profile == nil {
		return Output{Path: PathReject, Reasons: res.Reasons, FailedConditions: res.FailedConditions}
	}
	// Re-evaluate with transcoding in effect so conditions that are
	// advisory for direct play but binding for an encode get a say. The
	// binding set only grows, so the new result supersedes the first.
	res = Evaluate(in.Properties, in.Device, in.MediaType, true)
	return Output{
		Path:             PathTranscode,
		Reasons:          res.Reasons,
		FailedConditions: res.FailedConditions,
		Profile:          profile,
	}
}

// remuxViable reports whether some direct play profile accepts the source
// streams in a container the client does support, making a rewrap enough.
func remuxViable(device *profiles.DeviceProfile, mediaType media.MediaType, props media.Properties) bool {
	for i := range device.DirectPlayProfiles {
		dp := &device.DirectPlayProfiles[i]
		if dp.Type != mediaType {
			continue
		}
		if mediaType == media.TypeVideo && !dp.SupportsVideoCodec(props.VideoCodec) {
			continue
		}
		if props.AudioCodec != "" && !dp.SupportsAudioCodec(props.AudioCodec) {
			continue
		}
		return true
	}
	return false
}

// EvaluateDirectPlay checks the source against the device profile and
// returns the complete set of objections. Zero means the client can play
// the part untouched.
func EvaluateDirectPlay(props media.Properties, device *profiles.DeviceProfile, mediaType media.MediaType, forTranscoding bool) profiles.TranscodeReason {
	return Evaluate(props, device, mediaType, forTranscoding).Reasons
}

// Evaluate checks the source against the device profile and returns every
// objection with its description. It never short-circuits: callers see all
// reasons at once, which keeps decisions explainable and tells the pipeline
// all constraints it has to fix in one pass.
//
// forTranscoding widens the check to conditions marked required for
// transcoding, which are advisory during plain direct play evaluation.
func Evaluate(props media.Properties, device *profiles.DeviceProfile, mediaType media.MediaType, forTranscoding bool) EvaluationResult {
	var ev evaluation

	checkContainer(&ev, props, device, mediaType)
	checkStreams(&ev, props, device, mediaType)
	checkBitrate(&ev, props, device)
	checkCodecProfiles(&ev, props, device, forTranscoding)

	return EvaluationResult{Reasons: ev.reasons, FailedConditions: ev.failed}
}

// evaluation accumulates objections during one pass over the profile.
type evaluation struct {
	reasons profiles.TranscodeReason
	failed  []string
}

func (e *evaluation) fail(r profiles.TranscodeReason, desc string) {
	e.reasons |= r
	e.failed = append(e.failed, desc)
}

func checkContainer(ev *evaluation, props media.Properties, device *profiles.DeviceProfile, mediaType media.MediaType) {
	for i := range device.DirectPlayProfiles {
		dp := &device.DirectPlayProfiles[i]
		if dp.Type == mediaType && dp.SupportsContainer(props.Container) {
			return
		}
	}
	ev.fail(profiles.ReasonContainerNotSupported,
		fmt.Sprintf("no direct play profile accepts container %q", props.Container))
}

func checkStreams(ev *evaluation, props media.Properties, device *profiles.DeviceProfile, mediaType media.MediaType) {
	if mediaType == media.TypeVideo {
		switch {
		case props.NumVideoStreams == 0 || props.VideoCodec == "":
			ev.fail(profiles.ReasonUnknownVideoStreamInfo, "video stream info could not be probed")
		case !anyDirectPlay(device, mediaType, func(dp *profiles.DirectPlayProfile) bool {
			return dp.SupportsVideoCodec(props.VideoCodec)
		}):
			ev.fail(profiles.ReasonVideoCodecNotSupported,
				fmt.Sprintf("no direct play profile accepts video codec %q", props.VideoCodec))
		}
	}

	if props.NumAudioStreams > 0 {
		switch {
		case props.AudioCodec == "":
			ev.fail(profiles.ReasonUnknownAudioStreamInfo, "audio stream info could not be probed")
		case !anyDirectPlay(device, mediaType, func(dp *profiles.DirectPlayProfile) bool {
			return dp.SupportsAudioCodec(props.AudioCodec)
		}):
			ev.fail(profiles.ReasonAudioCodecNotSupported,
				fmt.Sprintf("no direct play profile accepts audio codec %q", props.AudioCodec))
		}
		if props.IsSecondaryAudio {
			ev.fail(profiles.ReasonSecondaryAudioNotSupported, "a secondary audio track is selected")
		}
	}
}

func anyDirectPlay(device *profiles.DeviceProfile, mediaType media.MediaType, ok func(*profiles.DirectPlayProfile) bool) bool {
	for i := range device.DirectPlayProfiles {
		dp := &device.DirectPlayProfiles[i]
		if dp.Type == mediaType && ok(dp) {
			return true
		}
	}
	return false
}

func checkBitrate(ev *evaluation, props media.Properties, device *profiles.DeviceProfile) {
	limit := device.MaxStreamingBitrate
	if limit <= 0 {
		return
	}
	if props.TotalBitrate != nil && *props.TotalBitrate > limit {
		ev.fail(profiles.ReasonContainerBitrateExceedsLimit,
			fmt.Sprintf("total bitrate %d exceeds the device limit %d", *props.TotalBitrate, limit))
	}
	if props.VideoBitrate != nil && *props.VideoBitrate > limit {
		ev.fail(profiles.ReasonVideoBitrateNotSupported,
			fmt.Sprintf("video bitrate %d exceeds the device limit %d", *props.VideoBitrate, limit))
	}
}

func checkCodecProfiles(ev *evaluation, props media.Properties, device *profiles.DeviceProfile, forTranscoding bool) {
	for i := range device.CodecProfiles {
		cp := &device.CodecProfiles[i]
		var codec string
		switch cp.Type {
		case media.TypeVideo:
			codec = props.VideoCodec
		case media.TypeAudio:
			codec = props.AudioCodec
		}
		if codec == "" || !cp.AppliesToCodec(codec) {
			continue
		}
		for j := range cp.Conditions {
			cond := &cp.Conditions[j]
			binding := cond.IsRequired || (forTranscoding && cond.IsRequiredForTranscoding)
			if !binding {
				continue
			}
			if !EvaluateCondition(cond, props) {
				ev.fail(profiles.ReasonForProperty(cond.Property), DescribeCondition(cond, props))
			}
		}
	}
}

// DescribeCondition renders a failed condition as one readable line:
// the constrained property, the check, and what the source actually has.
func DescribeCondition(cond *profiles.Condition, props media.Properties) string {
	val, known := props.Resolve(cond.Property)
	have := "unknown"
	switch {
	case val.Numeric != nil:
		have = strconv.FormatFloat(*val.Numeric, 'f', -1, 64)
	case known && val.Str != "":
		have = val.Str
	}
	return fmt.Sprintf("%s %s %s failed (source has %s)",
		cond.Property, cond.Comparison, cond.Value, have)
}

// EvaluateCondition checks one profile condition against the source
// properties. Ordered comparisons against a property the probe could not
// determine fail: an unknown value must never pass a limit check.
func EvaluateCondition(cond *profiles.Condition, props media.Properties) bool {
	val, known := props.Resolve(cond.Property)

	switch cond.Comparison {
	case profiles.CompareEqual:
		if isNumericProperty(cond.Property) {
			if val.Numeric == nil {
				return false
			}
			want, ok := parseFloat(cond.Value)
			return ok && *val.Numeric == want
		}
		return strings.EqualFold(val.Str, cond.Value)

	case profiles.CompareNotEqual:
		if !known {
			return true
		}
		if isNumericProperty(cond.Property) {
			if val.Numeric == nil {
				return true
			}
			want, ok := parseFloat(cond.Value)
			return !ok || *val.Numeric != want
		}
		return !strings.EqualFold(val.Str, cond.Value)

	case profiles.CompareLessThanEqual:
		if val.Numeric == nil {
			return false
		}
		want, ok := parseFloat(cond.Value)
		return ok && *val.Numeric <= want

	case profiles.CompareGreaterThanEqual:
		if val.Numeric == nil {
			return false
		}
		want, ok := parseFloat(cond.Value)
		return ok && *val.Numeric >= want

	case profiles.CompareEqualsAny:
		for _, cand := range strings.Split(cond.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(cand), val.Str) {
				return true
			}
		}
		return false

	case profiles.CompareMatches:
		return matchesPattern(cond.Value, val.Str)
	}
	return false
}

// isNumericProperty reports whether a property compares numerically. An
// absent numeric property has a nil Value.Numeric, which equality must
// treat as a failure rather than comparing empty strings.
func isNumericProperty(id media.PropertyID) bool {
	switch id {
	case media.PropContainer, media.PropVideoCodec, media.PropVideoProfile,
		media.PropVideoRangeType, media.PropAudioCodec, media.PropAudioProfile,
		media.PropIsAnamorphic, media.PropIsInterlaced, media.PropIsSecondaryAudio:
		return false
	}
	return true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func matchesPattern(pattern, value string) bool {
	patternMu.Lock()
	re, ok := patternCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			patternMu.Unlock()
			return false
		}
		patternCache[pattern] = re
	}
	patternMu.Unlock()
	return re.MatchString(value)
}

// SelectTranscodingProfile returns the first transcoding profile usable for
// streaming the given media type whose ApplyConditions all pass against the
// source. Declaration order is preference order; nil means no profile is
// eligible and the part cannot be transcoded for this device.
func SelectTranscodingProfile(device *profiles.DeviceProfile, mediaType media.MediaType, props media.Properties) *profiles.TranscodingProfile {
	for i := range device.TranscodingProfiles {
		tp := &device.TranscodingProfiles[i]
		if tp.Type != mediaType {
			continue
		}
		if tp.Context != profiles.ContextStreaming {
			continue
		}
		if !applyConditionsPass(tp, props) {
			continue
		}
		return tp
	}
	return nil
}

func applyConditionsPass(tp *profiles.TranscodingProfile, props media.Properties) bool {
	for i := range tp.ApplyConditions {
		if !EvaluateCondition(&tp.ApplyConditions[i], props) {
			return false
		}
	}
	return true
}
