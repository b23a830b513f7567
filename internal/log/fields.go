package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldPlugin    = "plugin"
	FieldMode      = "mode"
	FieldRequestID = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Display fields
	FieldBrightness = "brightness"
	FieldDurationS  = "duration_s"
	FieldSliceIndex = "slice_index"

	// Path fields
	FieldPath = "path"
	FieldKey  = "key"
)
