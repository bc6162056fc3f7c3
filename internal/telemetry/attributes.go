package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across playback spans.
const (
	// Playback attributes
	PlaybackPartIDKey = "playback.part_id"
	PlaybackPathKey   = "playback.path"
	PlaybackReasonKey = "playback.reasons"

	// Session attributes
	SessionKeyKey     = "session.key"
	SessionStartMsKey = "session.start_ms"
	SessionStateKey   = "session.state"

	// Transcoding attributes
	TranscodeInputCodecKey  = "transcode.input_codec"
	TranscodeOutputCodecKey = "transcode.output_codec"
	TranscodeContainerKey   = "transcode.container"
	TranscodeAccelKey       = "transcode.accel"
	TranscodeFilterKey      = "transcode.filter_chain"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// DecisionAttributes creates span attributes for a playback decision.
func DecisionAttributes(partID, path, reasons string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaybackPartIDKey, partID),
		attribute.String(PlaybackPathKey, path),
		attribute.String(PlaybackReasonKey, reasons),
	}
}

// SessionAttributes creates span attributes for an HLS session.
func SessionAttributes(key string, startMs int64, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionKeyKey, key),
		attribute.Int64(SessionStartMsKey, startMs),
		attribute.String(SessionStateKey, state),
	}
}

// TranscodeAttributes creates span attributes for a transcode launch.
func TranscodeAttributes(inputCodec, outputCodec, container, accel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TranscodeInputCodecKey, inputCodec),
		attribute.String(TranscodeOutputCodecKey, outputCodec),
		attribute.String(TranscodeContainerKey, container),
		attribute.String(TranscodeAccelKey, accel),
	}
}

// ErrorAttributes creates span attributes for a failure.
func ErrorAttributes(errType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errType),
	}
}
