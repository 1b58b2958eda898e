// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldUserID    = "user_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldMediaID   = "media_id"
	FieldChannelID = "channel_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Media / stream fields
	FieldCodec    = "codec"
	FieldProfile  = "profile"
	FieldPlatform = "platform"
	FieldHWAccel  = "hwaccel"
	FieldEncoder  = "encoder"
	FieldLanguage = "language"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldViewers  = "viewers"

	// Path / URL fields
	FieldPath         = "path"
	FieldManifestPath = "manifest_path"
	FieldOutputDir    = "output_dir"
)
