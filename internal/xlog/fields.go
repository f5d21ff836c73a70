// SPDX-License-Identifier: MIT

package xlog

// Canonical structured-log field names, so every component spells the
// same concept the same way. Adapted from xg2g's internal/log/fields.go,
// retargeted from IPTV session/stream identity to the waveform domain.
const (
	FieldComponent  = "component"
	FieldEvent      = "event"
	FieldFileID     = "file_id"
	FieldScopeID    = "scope_id"
	FieldVariableID = "variable_id"
	FieldRequestID  = "request_id"
	FieldKind       = "kind"
	FieldPluginID   = "plugin_id"
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"
	FieldPath       = "path"
	FieldDuration   = "duration_ms"
)
