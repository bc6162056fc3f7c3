package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldPartID    = "part_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media fields
	FieldCodec      = "codec"
	FieldContainer  = "container"
	FieldResolution = "resolution"
	FieldEncoder    = "encoder"
	FieldAccel      = "accel"
	FieldDevice     = "device"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath         = "path"
	FieldPlaylistPath = "playlist_path"
)
