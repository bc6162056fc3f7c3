// Package capabilities probes the external transcoder binary for what it can
// do and freezes the answer into an immutable snapshot.
package capabilities

import "runtime"

// Acceleration identifies a hardware acceleration family.
type Acceleration string

const (
	AccelNone         Acceleration = "none"
	AccelVAAPI        Acceleration = "vaapi"
	AccelNVENC        Acceleration = "nvenc"
	AccelQSV          Acceleration = "qsv"
	AccelAMF          Acceleration = "amf"
	AccelVideoToolbox Acceleration = "videotoolbox"
	AccelRKMPP        Acceleration = "rkmpp"
	AccelV4L2M2M      Acceleration = "v4l2m2m"
)

// Snapshot is the process-lifetime capability truth for the transcoder
// binary. It is built once at startup and never mutated; reads need no
// locking. Rebuilding it means re-running Detect.
type Snapshot struct {
	Version string

	hwaccels map[string]struct{}
	encoders map[string]struct{}
	decoders map[string]struct{}
	filters  map[string]struct{}

	// Recommended is the acceleration the current platform should use,
	// AccelNone when no verified hardware path exists.
	Recommended Acceleration
}

// NewSnapshot builds a snapshot from explicit listings. Detect is the
// production constructor; this one serves fixed capability sets.
func NewSnapshot(version string, hwaccels, encoders, decoders, filterNames []string) *Snapshot {
	s := &Snapshot{
		Version:  version,
		hwaccels: toSet(hwaccels),
		encoders: toSet(encoders),
		decoders: toSet(decoders),
		filters:  toSet(filterNames),
	}
	s.Recommended = s.recommend(runtime.GOOS)
	return s
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// SupportsHWAccel reports whether the binary lists the given hwaccel.
func (s *Snapshot) SupportsHWAccel(name string) bool {
	_, ok := s.hwaccels[name]
	return ok
}

// SupportsEncoder reports whether the binary ships the named encoder.
func (s *Snapshot) SupportsEncoder(name string) bool {
	_, ok := s.encoders[name]
	return ok
}

// SupportsDecoder reports whether the binary ships the named decoder.
func (s *Snapshot) SupportsDecoder(name string) bool {
	_, ok := s.decoders[name]
	return ok
}

// SupportsFilter reports whether the binary ships the named filter.
func (s *Snapshot) SupportsFilter(name string) bool {
	_, ok := s.filters[name]
	return ok
}

// EncoderCount returns how many encoders were discovered.
func (s *Snapshot) EncoderCount() int { return len(s.encoders) }

// FilterCount returns how many filters were discovered.
func (s *Snapshot) FilterCount() int { return len(s.filters) }

// EncoderFor returns the encoder name for a target codec under the given
// acceleration. AccelNone maps to the software encoder. Unknown codecs
// return the empty string.
func EncoderFor(codec string, accel Acceleration) string {
	suffix := encoderSuffixFor(accel)
	switch codec {
	case "h264":
		if suffix == "" {
			return "libx264"
		}
		return "h264_" + suffix
	case "hevc":
		if suffix == "" {
			return "libx265"
		}
		return "hevc_" + suffix
	}
	return ""
}

func encoderSuffixFor(accel Acceleration) string {
	switch accel {
	case AccelVAAPI, AccelNVENC, AccelQSV, AccelAMF, AccelVideoToolbox, AccelRKMPP, AccelV4L2M2M:
		return string(accel)
	}
	return ""
}

// HWAccelName returns the -hwaccel flag value for the family. NVENC decodes
// through CUDA, the rest use their own name.
func HWAccelName(accel Acceleration) string {
	switch accel {
	case AccelNVENC:
		return "cuda"
	case AccelNone:
		return ""
	default:
		return string(accel)
	}
}

// h264EncoderFor maps an acceleration family to the H.264 encoder whose
// presence proves the family is usable.
func h264EncoderFor(accel Acceleration) string {
	if accel == AccelNone {
		return ""
	}
	return EncoderFor("h264", accel)
}

// preferenceFor returns the platform-ordered acceleration candidates.
func preferenceFor(goos string) []Acceleration {
	switch goos {
	case "windows":
		return []Acceleration{AccelQSV, AccelNVENC, AccelAMF}
	case "darwin":
		return []Acceleration{AccelVideoToolbox}
	default: // linux and the rest of unix
		return []Acceleration{AccelVAAPI, AccelNVENC, AccelRKMPP, AccelV4L2M2M}
	}
}

// recommend picks the first platform-preferred acceleration whose H.264
// encoder is actually present, falling back to pure software.
func (s *Snapshot) recommend(goos string) Acceleration {
	for _, accel := range preferenceFor(goos) {
		if s.SupportsEncoder(h264EncoderFor(accel)) {
			return accel
		}
	}
	return AccelNone
}
