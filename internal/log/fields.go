// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldTraceID   = "trace_id"
	FieldVideoID   = "video_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldMirror    = "mirror"
	FieldBreaker   = "breaker"
	FieldAttempt   = "attempt"

	// Transfer fields
	FieldMode        = "mode"
	FieldTargetBytes = "target_bytes"
	FieldBytes       = "bytes"
	FieldOffset      = "offset"
	FieldStatus      = "status"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
	FieldHost = "host"
)
