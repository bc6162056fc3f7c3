package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober derives Properties from a source file using ffprobe.
type Prober struct {
	Bin string // ffprobe binary; empty means "ffprobe" on PATH
}

func NewProber(bin string) *Prober {
	return &Prober{Bin: strings.TrimSpace(bin)}
}

// ProbeResult couples the flattened Properties with the rotation side data
// that the filter pipeline needs.
type ProbeResult struct {
	Properties Properties
	Rotation   int // degrees, one of 0/90/180/270
}

// Probe executes ffprobe and flattens the first video and first audio stream
// into Properties.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 -- ffprobe binary comes from config; args are fixed
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}

	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("ffprobe json decode: %w", err)
	}
	if data.Format.FormatName == "" {
		return nil, fmt.Errorf("ffprobe returned empty format data")
	}

	res := &ProbeResult{}
	props := &res.Properties

	sawVideo := false
	sawAudio := false
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			props.NumVideoStreams++
			if sawVideo {
				continue
			}
			sawVideo = true
			props.VideoCodec = strings.ToLower(s.CodecName)
			props.VideoProfile = s.Profile
			if s.Level > 0 {
				props.VideoLevel = Float(float64(s.Level) / 10.0)
			}
			if s.Width > 0 {
				props.Width = Int(s.Width)
			}
			if s.Height > 0 {
				props.Height = Int(s.Height)
			}
			props.VideoBitDepth = bitDepthFromStream(s)
			if br, ok := parseInt64(s.BitRate); ok {
				props.VideoBitrate = Int64(br)
			}
			if fps, ok := parseRate(s.AvgFrameRate); ok {
				props.VideoFramerate = Float(fps)
			}
			if s.FieldOrder != "" && s.FieldOrder != "progressive" {
				props.IsInterlaced = true
			}
			props.IsAnamorphic = isAnamorphic(s.SampleAspectRatio)
			props.VideoRangeType = rangeTypeFromStream(s)
			res.Rotation = rotationFromStream(s)
		case "audio":
			props.NumAudioStreams++
			if sawAudio {
				props.IsSecondaryAudio = true
				continue
			}
			sawAudio = true
			props.AudioCodec = strings.ToLower(s.CodecName)
			props.AudioProfile = s.Profile
			if s.Channels > 0 {
				props.AudioChannels = Int(s.Channels)
			}
			if sr, ok := parseInt64(s.SampleRate); ok {
				props.AudioSampleRate = Int(int(sr))
			}
			if s.BitsPerRawSample != "" {
				if v, err := strconv.Atoi(s.BitsPerRawSample); err == nil {
					props.AudioBitDepth = Int(v)
				}
			}
			if br, ok := parseInt64(s.BitRate); ok {
				props.AudioBitrate = Int64(br)
			}
		}
	}

	if br, ok := parseInt64(data.Format.BitRate); ok {
		props.TotalBitrate = Int64(br)
	}
	if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
		props.DurationMs = int64(d * 1000)
	}

	props.Container = canonicalContainer(data.Format.FormatName)
	if props.Container == "" {
		return nil, fmt.Errorf("ffprobe returned empty format_name token list")
	}

	return res, nil
}

// canonicalContainer normalizes ffprobe's comma-list format names to a single
// container token (mpegts -> ts, the mov family -> mp4 unless mov leads).
func canonicalContainer(formatName string) string {
	parts := strings.Split(formatName, ",")
	canonical := ""
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t == "mpegts" {
			return "ts"
		}
		if t == "matroska" {
			return "mkv"
		}
		if t == "mp4" {
			return "mp4"
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	return canonical
}

func bitDepthFromStream(s probeStream) *int {
	if s.BitsPerRawSample != "" {
		if v, err := strconv.Atoi(s.BitsPerRawSample); err == nil && v > 0 {
			return Int(v)
		}
	}
	switch s.PixFmt {
	case "yuv420p10le", "yuv422p10le", "yuv444p10le", "p010le":
		return Int(10)
	case "yuv420p12le", "yuv422p12le", "yuv444p12le":
		return Int(12)
	case "":
		return nil
	}
	return Int(8)
}

func rangeTypeFromStream(s probeStream) string {
	switch s.ColorTransfer {
	case "smpte2084":
		return "HDR10"
	case "arib-std-b67":
		return "HLG"
	}
	if s.CodecName == "" {
		return ""
	}
	return "SDR"
}

func rotationFromStream(s probeStream) int {
	for _, sd := range s.SideDataList {
		if sd.Rotation == 0 {
			continue
		}
		// ffprobe reports counterclockwise rotation; normalize to 0..359
		r := int(sd.Rotation) % 360
		if r < 0 {
			r += 360
		}
		switch r {
		case 90, 180, 270:
			return r
		}
	}
	return 0
}

func isAnamorphic(sar string) bool {
	if sar == "" || sar == "1:1" || sar == "0:1" {
		return false
	}
	return true
}

func parseInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseRate(s string) (float64, bool) {
	if s == "" || s == "0/0" {
		return 0, false
	}
	parts := strings.Split(s, "/")
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(parts[0], 64)
		return v, err == nil && v > 0
	}
	if len(parts) != 2 {
		return 0, false
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0, false
	}
	return num / den, true
}

type probeStream struct {
	CodecType         string `json:"codec_type"`
	CodecName         string `json:"codec_name"`
	Profile           string `json:"profile,omitempty"`
	Level             int    `json:"level,omitempty"`
	PixFmt            string `json:"pix_fmt,omitempty"`
	BitsPerRawSample  string `json:"bits_per_raw_sample,omitempty"`
	BitRate           string `json:"bit_rate,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	FieldOrder        string `json:"field_order,omitempty"`
	AvgFrameRate      string `json:"avg_frame_rate,omitempty"`
	SampleAspectRatio string `json:"sample_aspect_ratio,omitempty"`
	ColorTransfer     string `json:"color_transfer,omitempty"`
	SampleRate        string `json:"sample_rate,omitempty"`
	Channels          int    `json:"channels,omitempty"`
	SideDataList      []struct {
		Rotation float64 `json:"rotation,omitempty"`
	} `json:"side_data_list,omitempty"`
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}
