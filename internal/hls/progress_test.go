package hls

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	t.Parallel()

	playlist := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.000,
seg00000.ts
#EXTINF:6.000,
seg00001.ts
#EXTINF:4.500,
seg00002.ts
#EXT-X-ENDLIST
`
	p, err := ParseProgress(playlist)
	require.NoError(t, err)

	want := &Progress{
		Segments:          3,
		MaterializedMs:    16500,
		TargetDurationSec: 6,
		Complete:          true,
	}
	require.Empty(t, cmp.Diff(want, p))
}

func TestParseProgressInFlight(t *testing.T) {
	t.Parallel()

	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.000,
seg00000.ts
`
	p, err := ParseProgress(playlist)
	require.NoError(t, err)
	require.Equal(t, 1, p.Segments)
	require.False(t, p.Complete)
}

func TestParseProgressRejectsCorruptDurations(t *testing.T) {
	t.Parallel()

	_, err := ParseProgress("#EXTM3U\n#EXTINF:abc,\nseg0.ts\n")
	require.Error(t, err)

	_, err = ParseProgress("#EXTM3U\n#EXT-X-TARGETDURATION:x\n")
	require.Error(t, err)
}
