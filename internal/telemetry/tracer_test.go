package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      false,
		ServiceName:  "test-service",
		ExporterType: "grpc",
	})
	require.NoError(t, err)
	require.Nil(t, provider.tp)

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	require.False(t, span.IsRecording())
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderInvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: "invalid",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported exporter type")
}

func TestSessionAttributes(t *testing.T) {
	t.Parallel()

	attrs := SessionAttributes("part:hash", 12500, "ready")
	require.Contains(t, attrs, attribute.String(SessionKeyKey, "part:hash"))
	require.Contains(t, attrs, attribute.Int64(SessionStartMsKey, 12500))
	require.Contains(t, attrs, attribute.String(SessionStateKey, "ready"))
}

func TestDecisionAttributes(t *testing.T) {
	t.Parallel()

	attrs := DecisionAttributes("abc", "transcode", "VideoCodecNotSupported")
	require.Len(t, attrs, 3)
	require.Contains(t, attrs, attribute.String(PlaybackPathKey, "transcode"))
}
