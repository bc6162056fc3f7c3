package filters

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRequiresSoftwareFallback marks a chain that is structurally unusable
// with the requested hardware path. Callers retry with acceleration off.
var ErrRequiresSoftwareFallback = errors.New("filter chain requires software fallback")

// hwFamily classifies a filter expression by the GPU memory family it
// operates on. Empty means system memory or memory-neutral.
func hwFamily(frag string) string {
	name, _, _ := strings.Cut(frag, "=")
	switch {
	case strings.HasSuffix(name, "_vaapi"):
		return "vaapi"
	case strings.HasSuffix(name, "_cuda"), strings.HasSuffix(name, "_npp"):
		return "cuda"
	case strings.HasSuffix(name, "_qsv"):
		return "qsv"
	case strings.HasSuffix(name, "_vt"):
		return "videotoolbox"
	case strings.HasSuffix(name, "_rkrga"):
		return "rkmpp"
	case strings.HasSuffix(name, "_opencl"):
		return "opencl"
	}
	return ""
}

// memoryNeutral filters pass through whatever memory type they are handed.
func memoryNeutral(frag string) bool {
	name, _, _ := strings.Cut(frag, "=")
	switch name {
	case "setparams", "format":
		return true
	}
	return false
}

// validate re-derives frame location from the rendered chain and rejects
// structural mistakes a filter author can make: a GPU filter reached while
// frames sit in system memory, GPU frames handed to a software encoder
// without a download, or two incompatible GPU families in one chain. It
// deliberately re-checks what the builder already believes; the point is
// catching the builder's bugs before ffmpeg fails mid-session.
func validate(ctx *Context, frags []string) error {
	onGPU := ctx.HWDecode
	families := map[string]bool{}

	for _, frag := range frags {
		name, _, _ := strings.Cut(frag, "=")
		switch name {
		case "hwupload", "hwupload_cuda":
			onGPU = true
			continue
		case "hwdownload":
			onGPU = false
			continue
		}

		fam := hwFamily(frag)
		if fam == "opencl" {
			// The OpenCL tonemap chain brackets itself with its own
			// upload and download, handled above.
			continue
		}
		if fam != "" {
			if !onGPU {
				return fmt.Errorf("%q needs GPU frames but none were uploaded: %w",
					frag, ErrRequiresSoftwareFallback)
			}
			families[fam] = true
			continue
		}
		if onGPU && !memoryNeutral(frag) {
			return fmt.Errorf("software filter %q reached with frames in GPU memory: %w",
				frag, ErrRequiresSoftwareFallback)
		}
	}

	if onGPU && !ctx.HWEncode {
		return fmt.Errorf("chain ends with GPU frames but the encoder is software: %w",
			ErrRequiresSoftwareFallback)
	}
	if err := checkFamilyMix(families); err != nil {
		return err
	}
	return nil
}

// checkFamilyMix rejects chains that span incompatible GPU memory types.
// QSV rides on VAAPI surfaces on Linux, so that pair is allowed.
func checkFamilyMix(families map[string]bool) error {
	if families["cuda"] && families["vaapi"] {
		return fmt.Errorf("chain mixes CUDA and VAAPI filters: %w", ErrRequiresSoftwareFallback)
	}
	if families["cuda"] && families["qsv"] {
		return fmt.Errorf("chain mixes CUDA and QSV filters: %w", ErrRequiresSoftwareFallback)
	}
	return nil
}
