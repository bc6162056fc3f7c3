package filters

import (
	"sort"
	"strings"

	"github.com/nexamediaserver/server/internal/log"
)

// DefaultChain is the explicit filter registration list. Adding a filter
// means adding it here; nothing is discovered implicitly.
func DefaultChain() []Filter {
	return []Filter{
		Color{},
		Deinterlace{},
		HWUpload{},
		Transpose{},
		Scale{},
		Tonemap{},
		PixelFormat{},
		HWDownload{},
	}
}

// Build assembles the -vf expression for a session: applicable filters in
// canonical order, then an independent validation pass. An empty string
// with a nil error means no filtering is needed.
//
// A validation failure wraps ErrRequiresSoftwareFallback so the caller can
// retry the whole pipeline with hardware acceleration off.
func Build(ctx *Context, chain []Filter) (string, error) {
	ordered := make([]Filter, len(chain))
	copy(ordered, chain)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order() < ordered[j].Order()
	})

	var frags []string
	for _, f := range ordered {
		if !f.Supports(ctx) {
			continue
		}
		frags = append(frags, f.Build(ctx)...)
	}
	if len(frags) == 0 {
		return "", nil
	}

	if err := validate(ctx, frags); err != nil {
		logger := log.WithComponent("filters")
		logger.Warn().
			Err(err).
			Str(log.FieldAccel, string(ctx.Accel)).
			Str("chain", strings.Join(frags, ",")).
			Msg("filter chain failed validation")
		return "", err
	}
	return strings.Join(frags, ","), nil
}
