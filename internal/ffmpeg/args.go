// Package ffmpeg builds argument lists for and supervises the external
// transcoder process.
package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
)

// InputSpec describes the source side of an invocation.
type InputSpec struct {
	Path string

	// StartSeconds seeks before the demuxer opens the input. Callers are
	// expected to have snapped it to a keyframe already.
	StartSeconds float64

	Accel    capabilities.Acceleration
	HWDecode bool

	// HWDevice is the render node for VAAPI-family acceleration.
	HWDevice string
}

// VideoSpec describes the video output stream.
type VideoSpec struct {
	Copy    bool
	Encoder string
	Bitrate int64
	MaxRate int64
	BufSize int64
	Preset  string

	// Filter is the rendered -vf chain, empty for none.
	Filter string
}

// AudioSpec describes the audio output stream.
type AudioSpec struct {
	Copy     bool
	Encoder  string
	Bitrate  int64
	Channels int
}

// HLSSpec describes the HLS muxer output.
type HLSSpec struct {
	// PlaylistPath is where the muxer writes the media playlist. The
	// runner writes to a temp name and promotes it, see Runner.
	PlaylistPath   string
	SegmentPattern string
	SegmentSeconds int
	StartNumber    int
}

// BuildHLSArgs renders one VOD HLS transcode invocation.
func BuildHLSArgs(in InputSpec, v VideoSpec, a AudioSpec, out HLSSpec) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin", "-y"}

	args = append(args, hwInitArgs(in)...)

	if in.StartSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", in.StartSeconds))
	}
	args = append(args, "-i", in.Path)

	segSeconds := out.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 6
	}

	args = append(args, videoArgs(v)...)
	if !v.Copy {
		// Force keyframe cadence so segment boundaries stay aligned.
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segSeconds))
	}
	args = append(args, audioArgs(a)...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", out.SegmentPattern,
		"-start_number", strconv.Itoa(out.StartNumber),
		"-hls_flags", "temp_file",
		out.PlaylistPath,
	)
	return args
}

// BuildRemuxArgs renders a stream-copy rewrap writing to stdout, used for
// progressive remux responses.
func BuildRemuxArgs(in InputSpec, container string) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin"}
	if in.StartSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", in.StartSeconds))
	}
	args = append(args, "-i", in.Path, "-c", "copy")

	switch container {
	case "mp4":
		// Pipe output cannot seek back to write moov, fragment instead.
		args = append(args, "-movflags", "+frag_keyframe+empty_moov+faststart", "-f", "mp4")
	case "ts":
		args = append(args, "-f", "mpegts")
	default:
		args = append(args, "-f", container)
	}
	args = append(args, "pipe:1")
	return args
}

func hwInitArgs(in InputSpec) []string {
	if !in.HWDecode {
		return nil
	}
	switch in.Accel {
	case capabilities.AccelVAAPI:
		device := in.HWDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		return []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-hwaccel", "vaapi",
			"-hwaccel_output_format", "vaapi",
		}
	case capabilities.AccelNVENC:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case capabilities.AccelQSV:
		return []string{
			"-init_hw_device", "qsv=qsv",
			"-hwaccel", "qsv",
			"-hwaccel_output_format", "qsv",
		}
	case capabilities.AccelVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	}
	return nil
}

func videoArgs(v VideoSpec) []string {
	if v.Copy {
		return []string{"-c:v", "copy"}
	}
	args := []string{"-c:v", v.Encoder}
	if v.Filter != "" {
		args = append(args, "-vf", v.Filter)
	}
	if v.Preset != "" {
		args = append(args, "-preset", v.Preset)
	}
	if v.Bitrate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(v.Bitrate, 10))
	}
	if v.MaxRate > 0 {
		args = append(args, "-maxrate", strconv.FormatInt(v.MaxRate, 10))
	}
	if v.BufSize > 0 {
		args = append(args, "-bufsize", strconv.FormatInt(v.BufSize, 10))
	}
	return args
}

func audioArgs(a AudioSpec) []string {
	if a.Copy {
		return []string{"-c:a", "copy"}
	}
	args := []string{"-c:a", a.Encoder}
	if a.Bitrate > 0 {
		args = append(args, "-b:a", strconv.FormatInt(a.Bitrate, 10))
	}
	if a.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(a.Channels))
	}
	return args
}
