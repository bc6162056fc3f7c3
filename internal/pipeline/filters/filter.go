// Package filters builds and validates ffmpeg video filter chains. Each
// concern is one Filter; the builder assembles the chain in canonical order
// and a validator independently checks the result for cross-filter mistakes
// before any process is spawned.
package filters

import "github.com/nexamediaserver/server/internal/ffmpeg/capabilities"

// Canonical chain positions. Filters are assembled in ascending order, so a
// new filter picks the slot for its concern instead of caring about its
// neighbors.
const (
	OrderColor       = 10
	OrderDeinterlace = 20
	OrderHWUpload    = 30
	OrderTranspose   = 40
	OrderScale       = 50
	OrderTonemap     = 60
	OrderPixelFormat = 70
	OrderHWDownload  = 80
)

// Context carries everything a filter needs to decide whether it applies
// and how to render itself. It is built per transcode session.
type Context struct {
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int

	// Rotation is the source display rotation in degrees, normalized to
	// 0, 90, 180 or 270.
	Rotation int

	Interlaced   bool
	HDR          bool
	TonemapToSDR bool

	// TargetBitDepth is the encode target, 8 or 10.
	TargetBitDepth int

	Accel capabilities.Acceleration

	// HWDecode means decoded frames arrive in GPU memory; HWEncode means
	// the encoder consumes GPU frames. Together they determine where
	// uploads and downloads belong.
	HWDecode bool
	HWEncode bool

	Caps *capabilities.Snapshot
}

// gpuMidChain reports whether frames live in GPU memory between the upload
// and download slots.
func (c *Context) gpuMidChain() bool {
	return c.HWDecode || c.HWEncode
}

func (c *Context) hasFilter(name string) bool {
	return c.Caps != nil && c.Caps.SupportsFilter(name)
}

// Filter is one link in the chain. Build returns the filter expressions to
// append; a single concern may render to more than one expression.
type Filter interface {
	Name() string
	Order() int
	Supports(*Context) bool
	Build(*Context) []string
}
