// SPDX-License-Identifier: MIT

package sessionconfig

import "github.com/novywave/novywave-core/internal/selectedvars"

// DockMode is where the variables/files panels are docked.
type DockMode string

const (
	DockRight  DockMode = "right"
	DockBottom DockMode = "bottom"
)

// ThemeName is the UI color scheme, distinct from canvas.Theme (the
// concrete palette a ThemeName resolves to).
type ThemeName string

const (
	ThemeLight ThemeName = "light"
	ThemeDark  ThemeName = "dark"
)

// DefaultDockMode and DefaultTheme are applied when a document is absent
// or a field is missing.
const (
	DefaultDockMode = DockRight
	DefaultTheme    = ThemeDark
)

// Document is the on-disk shape of the persisted session, written and
// read as TOML (§6 of the external interface). Keys are lower-snake_case
// to match the wire format exactly; field order here mirrors the
// document's section order.
type Document struct {
	App       AppSection       `toml:"app"`
	UI        UISection        `toml:"ui"`
	Workspace WorkspaceSection `toml:"workspace"`
}

// AppSection records the version of the engine that last wrote the
// document, for future migration use; nothing reads it back today.
type AppSection struct {
	Version string `toml:"version"`
}

type UISection struct {
	Theme string `toml:"theme"`
}

type WorkspaceSection struct {
	OpenedFiles       []string                `toml:"opened_files"`
	SelectedVariables []SelectedVariableEntry `toml:"selected_variables"`
	ExpandedScopes    []string                `toml:"expanded_scopes"`
	SelectedScopeID   string                  `toml:"selected_scope_id"`
	DockMode          string                  `toml:"dock_mode"`
	PanelLayouts      PanelLayoutsSection     `toml:"panel_layouts"`
	Timeline          TimelineSection         `toml:"timeline"`
}

type SelectedVariableEntry struct {
	UniqueID  string `toml:"unique_id"`
	Formatter string `toml:"formatter"`
}

type PanelLayoutsSection struct {
	DockedToRight  PanelLayout `toml:"docked_to_right"`
	DockedToBottom PanelLayout `toml:"docked_to_bottom"`
}

type PanelLayout struct {
	FilesPanelWidth           float64 `toml:"files_panel_width"`
	Height                    float64 `toml:"height"`
	VariablesNameColumnWidth  float64 `toml:"variables_name_column_width"`
	VariablesValueColumnWidth float64 `toml:"variables_value_column_width"`
}

// DefaultPanelLayout is used for either dock mode absent from a restored
// document.
func DefaultPanelLayout() PanelLayout {
	return PanelLayout{
		FilesPanelWidth:           280,
		Height:                    200,
		VariablesNameColumnWidth:  220,
		VariablesValueColumnWidth: 140,
	}
}

// TimelineSection stores time values in nanoseconds (§6: "integers in
// nanoseconds for backward compatibility with existing traces");
// ps_per_pixel is the one field that doesn't round-trip through
// FromNanos/Nanos, since zoom level has no legacy nanosecond meaning.
type TimelineSection struct {
	CursorNs        uint64 `toml:"cursor_ns"`
	ViewportStartNs uint64 `toml:"viewport_start_ns"`
	ViewportEndNs   uint64 `toml:"viewport_end_ns"`
	PsPerPixel      uint64 `toml:"ps_per_pixel"`
}

// formatterToWire and wireToFormatter translate between the internal
// lower_snake_case Formatter constants and the wire document's
// capitalized abbreviations (§6).
func formatterToWire(f selectedvars.Formatter) string {
	switch f {
	case selectedvars.FormatHex:
		return "Hex"
	case selectedvars.FormatBinary:
		return "Bin"
	case selectedvars.FormatBinaryGroups:
		return "BinGroups"
	case selectedvars.FormatOctal:
		return "Oct"
	case selectedvars.FormatUnsigned:
		return "UInt"
	case selectedvars.FormatSigned:
		return "Int"
	case selectedvars.FormatASCII:
		return "ASCII"
	default:
		return "Hex"
	}
}

func wireToFormatter(s string) selectedvars.Formatter {
	switch s {
	case "Hex":
		return selectedvars.FormatHex
	case "Bin":
		return selectedvars.FormatBinary
	case "BinGroups":
		return selectedvars.FormatBinaryGroups
	case "Oct":
		return selectedvars.FormatOctal
	case "UInt":
		return selectedvars.FormatUnsigned
	case "Int":
		return selectedvars.FormatSigned
	case "ASCII":
		return selectedvars.FormatASCII
	default:
		return selectedvars.DefaultFormatter
	}
}
