package filters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
)

func swContext() *Context {
	return &Context{
		SrcWidth: 1920, SrcHeight: 1080,
		DstWidth: 1280, DstHeight: 720,
		TargetBitDepth: 8,
		Accel:          capabilities.AccelNone,
	}
}

func TestBuildCanonicalOrder(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Interlaced = true
	ctx.Rotation = 90
	ctx.HDR = true
	ctx.TonemapToSDR = true

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)

	frags := strings.Split(chain, ",")
	idx := func(prefix string) int {
		for i, f := range frags {
			if strings.HasPrefix(f, prefix) {
				return i
			}
		}
		t.Fatalf("no fragment with prefix %q in %q", prefix, chain)
		return -1
	}

	require.Less(t, idx("setparams"), idx("yadif"))
	require.Less(t, idx("yadif"), idx("transpose"))
	require.Less(t, idx("transpose"), idx("scale"))
	require.Less(t, idx("scale"), idx("tonemap"))
	require.Less(t, idx("tonemap"), idx("format=yuv420p"))
}

func TestBuildColorNormalizationAlwaysApplies(t *testing.T) {
	t.Parallel()

	// Even a chain with nothing else to do normalizes color metadata.
	ctx := &Context{
		SrcWidth: 1280, SrcHeight: 720,
		DstWidth: 1280, DstHeight: 720,
		Accel:    capabilities.AccelNone,
		HWEncode: true, HWDecode: true,
	}
	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Equal(t, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709", chain)

	// An SDR deinterlace+rotate+scale chain leads with it too.
	sdr := swContext()
	sdr.Interlaced = true
	sdr.Rotation = 180
	chain, err = Build(sdr, DefaultChain())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(chain, "setparams=color_primaries=bt709"))
	require.Contains(t, chain, "yadif")
	require.Contains(t, chain, "transpose=1,transpose=1")
	require.Contains(t, chain, "scale=1280:720")
}

func TestBuildVAAPIFullHardware(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Accel = capabilities.AccelVAAPI
	ctx.HWDecode = true
	ctx.HWEncode = true

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Equal(t, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709,scale_vaapi=w=1280:h=720:format=nv12", chain)
}

func TestBuildUploadForSoftwareDecode(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Accel = capabilities.AccelVAAPI
	ctx.HWEncode = true

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Equal(t, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709,format=nv12|vaapi,hwupload,scale_vaapi=w=1280:h=720:format=nv12", chain)
}

func TestBuildDownloadForSoftwareEncode(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Accel = capabilities.AccelVAAPI
	ctx.HWDecode = true

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Equal(t, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709,scale_vaapi=w=1280:h=720:format=nv12,hwdownload,format=nv12", chain)
}

func TestBuildSoftware180Rotation(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.DstWidth, ctx.DstHeight = 1920, 1080 // no scale
	ctx.Rotation = 180

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Equal(t, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709,transpose=1,transpose=1,format=yuv420p", chain)
}

func TestScalePrefersZscale(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Caps = capabilities.NewSnapshot("6.1", nil, nil, nil, []string{"zscale"})

	chain, err := Build(ctx, DefaultChain())
	require.NoError(t, err)
	require.Contains(t, chain, "zscale=w=1280:h=720:filter=lanczos")
	require.NotContains(t, chain, "scale=1280:720:flags=lanczos")
}

// buggyFilter stands in for a filter implementation that emits a GPU
// expression without checking where the frames live.
type buggyFilter struct{}

func (buggyFilter) Name() string            { return "buggy_scale" }
func (buggyFilter) Order() int              { return OrderScale }
func (buggyFilter) Supports(*Context) bool  { return true }
func (buggyFilter) Build(*Context) []string { return []string{"scale_cuda=1280:720"} }

func TestValidateCatchesGPUFilterWithoutUpload(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	_, err := Build(ctx, []Filter{buggyFilter{}})
	require.ErrorIs(t, err, ErrRequiresSoftwareFallback)
	require.Contains(t, err.Error(), "scale_cuda")
}

func TestValidateCatchesSoftwareFilterOnGPUFrames(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	ctx.Accel = capabilities.AccelNVENC
	ctx.HWDecode = true
	ctx.HWEncode = true
	ctx.Interlaced = true // no yadif_cuda in caps, falls back to yadif

	_, err := Build(ctx, DefaultChain())
	require.ErrorIs(t, err, ErrRequiresSoftwareFallback)
}

func TestValidateRejectsFamilyMix(t *testing.T) {
	t.Parallel()

	ctx := &Context{Accel: capabilities.AccelNVENC, HWDecode: true, HWEncode: true}
	err := validate(ctx, []string{"scale_cuda=1280:720", "tonemap_vaapi=format=nv12"})
	require.ErrorIs(t, err, ErrRequiresSoftwareFallback)

	// QSV rides on VAAPI surfaces, the pair is legal.
	ctxQSV := &Context{Accel: capabilities.AccelQSV, HWDecode: true, HWEncode: true}
	err = validate(ctxQSV, []string{"scale_qsv=w=1280:h=720", "tonemap_vaapi=format=nv12"})
	require.NoError(t, err)
}

func TestValidateRejectsDanglingGPUFrames(t *testing.T) {
	t.Parallel()

	ctx := swContext()
	err := validate(ctx, []string{"hwupload", "scale_vaapi=w=1280:h=720"})
	require.ErrorIs(t, err, ErrRequiresSoftwareFallback)
}

func TestOpenCLTonemapBouncePasses(t *testing.T) {
	t.Parallel()

	err := validate(swContext(), []string{
		"hwupload",
		"tonemap_opencl=tonemap=hable:format=nv12",
		"hwdownload",
		"format=nv12",
		"format=yuv420p",
	})
	require.NoError(t, err)
}
