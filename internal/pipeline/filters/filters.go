package filters

import (
	"fmt"

	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
)

// Color normalizes color metadata before anything else touches the frame.
// Delivery is always Rec.709 SDR, and sources with missing or inconsistent
// tags otherwise render with shifted colors on strict players. It applies
// to every chain.
type Color struct{}

func (Color) Name() string { return "color" }
func (Color) Order() int   { return OrderColor }
func (Color) Supports(*Context) bool {
	return true
}
func (Color) Build(*Context) []string {
	return []string{"setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709"}
}

// Deinterlace removes interlacing before any scaling touches the frame.
type Deinterlace struct{}

func (Deinterlace) Name() string { return "deinterlace" }
func (Deinterlace) Order() int   { return OrderDeinterlace }
func (Deinterlace) Supports(c *Context) bool {
	return c.Interlaced
}
func (Deinterlace) Build(c *Context) []string {
	if c.HWDecode {
		switch c.Accel {
		case capabilities.AccelVAAPI:
			if c.hasFilter("deinterlace_vaapi") {
				return []string{"deinterlace_vaapi"}
			}
		case capabilities.AccelNVENC:
			if c.hasFilter("yadif_cuda") {
				return []string{"yadif_cuda"}
			}
		case capabilities.AccelQSV:
			if c.hasFilter("vpp_qsv") {
				return []string{"vpp_qsv=deinterlace=2"}
			}
		}
	}
	if c.hasFilter("bwdif") {
		return []string{"bwdif=mode=send_field"}
	}
	return []string{"yadif=mode=send_field:deint=interlaced"}
}

// HWUpload moves frames into GPU memory when the decoder left them in
// system memory but a hardware encoder wants them.
type HWUpload struct{}

func (HWUpload) Name() string { return "hwupload" }
func (HWUpload) Order() int   { return OrderHWUpload }
func (HWUpload) Supports(c *Context) bool {
	return c.HWEncode && !c.HWDecode && c.Accel != capabilities.AccelNone
}
func (HWUpload) Build(c *Context) []string {
	switch c.Accel {
	case capabilities.AccelNVENC:
		return []string{"hwupload_cuda"}
	case capabilities.AccelQSV:
		return []string{"hwupload=extra_hw_frames=64"}
	default:
		return []string{"format=nv12|vaapi", "hwupload"}
	}
}

// Transpose bakes the source display rotation into the pixels. HLS clients
// do not reliably honor rotation side data, so the frames must be rotated.
type Transpose struct{}

func (Transpose) Name() string { return "transpose" }
func (Transpose) Order() int   { return OrderTranspose }
func (Transpose) Supports(c *Context) bool {
	return c.Rotation == 90 || c.Rotation == 180 || c.Rotation == 270
}
func (Transpose) Build(c *Context) []string {
	if c.gpuMidChain() {
		if name, ok := hwTranspose(c); ok {
			return name
		}
	}
	switch c.Rotation {
	case 90:
		return []string{"transpose=1"}
	case 270:
		return []string{"transpose=2"}
	default:
		// No single 180 mode exists in software; two quarter turns do it.
		return []string{"transpose=1", "transpose=1"}
	}
}

func hwTranspose(c *Context) ([]string, bool) {
	dir := map[int]string{90: "1", 180: "4", 270: "2"}[c.Rotation]
	switch c.Accel {
	case capabilities.AccelVAAPI:
		if c.hasFilter("transpose_vaapi") {
			if c.Rotation == 180 {
				return []string{"transpose_vaapi=dir=reversal"}, true
			}
			return []string{"transpose_vaapi=dir=" + dir}, true
		}
	case capabilities.AccelNVENC:
		if c.hasFilter("transpose_npp") {
			if c.Rotation == 180 {
				return []string{"transpose_npp=dir=1", "transpose_npp=dir=1"}, true
			}
			return []string{"transpose_npp=dir=" + dir}, true
		}
	case capabilities.AccelQSV:
		if c.hasFilter("vpp_qsv") {
			switch c.Rotation {
			case 90:
				return []string{"vpp_qsv=transpose=clock"}, true
			case 180:
				return []string{"vpp_qsv=transpose=reversal"}, true
			case 270:
				return []string{"vpp_qsv=transpose=cclock"}, true
			}
		}
	}
	return nil, false
}

// Scale resizes to the encode target. Dimensions are forced even because
// 4:2:0 output cannot carry odd sizes.
type Scale struct{}

func (Scale) Name() string { return "scale" }
func (Scale) Order() int   { return OrderScale }
func (Scale) Supports(c *Context) bool {
	if c.DstWidth <= 0 || c.DstHeight <= 0 {
		return false
	}
	return c.DstWidth != c.SrcWidth || c.DstHeight != c.SrcHeight
}
func (Scale) Build(c *Context) []string {
	w, h := c.DstWidth&^1, c.DstHeight&^1
	if c.gpuMidChain() {
		switch c.Accel {
		case capabilities.AccelVAAPI:
			return []string{fmt.Sprintf("scale_vaapi=w=%d:h=%d:format=nv12", w, h)}
		case capabilities.AccelNVENC:
			return []string{fmt.Sprintf("scale_cuda=%d:%d", w, h)}
		case capabilities.AccelQSV:
			return []string{fmt.Sprintf("scale_qsv=w=%d:h=%d", w, h)}
		case capabilities.AccelVideoToolbox:
			if c.hasFilter("scale_vt") {
				return []string{fmt.Sprintf("scale_vt=w=%d:h=%d", w, h)}
			}
		}
	}
	if c.hasFilter("zscale") {
		return []string{fmt.Sprintf("zscale=w=%d:h=%d:filter=lanczos", w, h)}
	}
	return []string{fmt.Sprintf("scale=%d:%d:flags=lanczos", w, h)}
}

// Tonemap converts HDR sources down to SDR bt709.
type Tonemap struct{}

func (Tonemap) Name() string { return "tonemap" }
func (Tonemap) Order() int   { return OrderTonemap }
func (Tonemap) Supports(c *Context) bool {
	return c.HDR && c.TonemapToSDR
}
func (Tonemap) Build(c *Context) []string {
	if c.gpuMidChain() {
		switch c.Accel {
		case capabilities.AccelVAAPI:
			if c.hasFilter("tonemap_vaapi") {
				return []string{"tonemap_vaapi=format=nv12:p=bt709:t=bt709:m=bt709"}
			}
		case capabilities.AccelNVENC:
			if c.hasFilter("tonemap_cuda") {
				return []string{"tonemap_cuda=format=nv12:p=bt709:t=bt709:m=bt709:tonemap=hable"}
			}
		}
	}
	if !c.gpuMidChain() && c.hasFilter("tonemap_opencl") {
		// Bounce through an OpenCL device for the mapping itself. The
		// chain manages its own upload and download, so the surrounding
		// filters stay in system memory.
		return []string{
			"hwupload",
			"tonemap_opencl=tonemap=hable:format=nv12:p=bt709:t=bt709:m=bt709",
			"hwdownload",
			"format=nv12",
		}
	}
	if c.hasFilter("zscale") {
		return []string{
			"zscale=t=linear:npl=100",
			"tonemap=hable:desat=0",
			"zscale=p=bt709:t=bt709:m=bt709:r=tv",
		}
	}
	return []string{"tonemap=hable:desat=0"}
}

// PixelFormat pins the output pixel format for software encoders so the
// encoder never guesses. With a hardware decoder the trailing download
// already pins the format, so this slot stays empty.
type PixelFormat struct{}

func (PixelFormat) Name() string { return "pixel_format" }
func (PixelFormat) Order() int   { return OrderPixelFormat }
func (PixelFormat) Supports(c *Context) bool {
	return !c.HWEncode && !c.HWDecode
}
func (PixelFormat) Build(c *Context) []string {
	if c.TargetBitDepth == 10 {
		return []string{"format=yuv420p10le"}
	}
	return []string{"format=yuv420p"}
}

// HWDownload pulls frames back into system memory when a hardware decoder
// feeds a software encoder.
type HWDownload struct{}

func (HWDownload) Name() string { return "hwdownload" }
func (HWDownload) Order() int   { return OrderHWDownload }
func (HWDownload) Supports(c *Context) bool {
	return c.HWDecode && !c.HWEncode
}
func (HWDownload) Build(*Context) []string {
	return []string{"hwdownload", "format=nv12"}
}
