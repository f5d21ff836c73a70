// SPDX-License-Identifier: MIT

// Package sessionconfig owns the persisted session document: the set of
// opened files, selected variables, scope expansion, dock layout, theme,
// and timeline position a user expects to find exactly as they left it.
// Restore runs once at startup, pushing every field into its owning
// actor through that actor's normal inbound relays. Save runs
// continuously afterward, coalescing any change across those same
// actors into a single atomic write, debounced so a drag or a burst of
// clicks produces one write instead of dozens.
//
// Grounded on ManuGH/xg2g's internal/jobs/write_unix.go (renameio
// NewPendingFile / CloseAtomicallyReplace atomic write) and
// internal/config/loader.go (defaults-then-restore structure, adapted
// from env/file/defaults precedence down to TOML's simpler
// document-or-defaults case).
package sessionconfig

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"

	"github.com/novywave/novywave-core/internal/metrics"
	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/selectedvars"
	"github.com/novywave/novywave-core/internal/timeline"
	"github.com/novywave/novywave-core/internal/timeps"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/xlog"
)

const (
	saveDebounce   = 300 * time.Millisecond
	saveRetryDelay = 1 * time.Second
)

// PanelLayoutChange is sent on PanelLayoutChangedRelay to update one
// dock mode's panel geometry without disturbing the other.
type PanelLayoutChange struct {
	Dock   DockMode
	Layout PanelLayout
}

// Manager owns the session document's write path and the small slice of
// UI-only state (dock mode, theme, panel layouts) that has no other
// owning actor. Construct with NewManager, which restores synchronously
// before returning.
type Manager struct {
	path    string
	version string

	files *trackedfiles.Manager
	vars  *selectedvars.Manager
	tl    *timeline.Engine

	mu           sync.RWMutex
	dockMode     DockMode
	theme        ThemeName
	panelLayouts PanelLayoutsSection

	initMu   sync.RWMutex
	initDone bool

	DockModeChangedRelay    *reactive.Relay[DockMode]
	ThemeChangedRelay       *reactive.Relay[ThemeName]
	PanelLayoutChangedRelay *reactive.Relay[PanelLayoutChange]

	// WriteErrorRelay reports a save failure after its retry has also
	// failed, for the error surface to turn into a toast.
	WriteErrorRelay *reactive.Relay[error]
}

// NewManager constructs a manager over the document at path, restores
// it synchronously into files/vars/tl, and starts the debounced save
// loop, which runs until ctx is canceled.
func NewManager(ctx context.Context, path, version string, files *trackedfiles.Manager, vars *selectedvars.Manager, tl *timeline.Engine) *Manager {
	m := &Manager{
		path:                    path,
		version:                 version,
		files:                   files,
		vars:                    vars,
		tl:                      tl,
		dockMode:                DefaultDockMode,
		theme:                   DefaultTheme,
		panelLayouts:            PanelLayoutsSection{DockedToRight: DefaultPanelLayout(), DockedToBottom: DefaultPanelLayout()},
		DockModeChangedRelay:    reactive.NewRelay[DockMode]("dock_mode_changed_relay"),
		ThemeChangedRelay:       reactive.NewRelay[ThemeName]("theme_changed_relay"),
		PanelLayoutChangedRelay: reactive.NewRelay[PanelLayoutChange]("panel_layout_changed_relay"),
		WriteErrorRelay:         reactive.NewRelay[error]("config_write_error_relay"),
	}

	m.restore(ctx)

	go m.run(ctx)
	return m
}

// restore reads the document at m.path, if present, and pushes every
// field into its owning actor. A missing document triggers writing
// defaults (§6); a malformed one logs and falls back to an empty
// document rather than refusing to start.
func (m *Manager) restore(ctx context.Context) {
	doc, err := load(m.path)
	if os.IsNotExist(err) {
		xlog.WithComponent("sessionconfig").Info().Str("path", m.path).Msg("no session document found, writing defaults")
		m.save(ctx)
		m.markInitDone()
		return
	}
	if err != nil {
		xlog.WithComponent("sessionconfig").Warn().Err(err).Str("path", m.path).Msg("session document malformed, falling back to defaults")
		doc = Document{}
	}

	if len(doc.Workspace.OpenedFiles) > 0 {
		m.files.ConfigFilesLoadedRelay.Send(doc.Workspace.OpenedFiles)
	}
	for _, scopeID := range doc.Workspace.ExpandedScopes {
		m.files.ScopeExpandedRelay.Send(scopeID)
	}
	if doc.Workspace.SelectedScopeID != "" {
		m.files.ScopeSelectedRelay.Send(doc.Workspace.SelectedScopeID)
	}

	if len(doc.Workspace.SelectedVariables) > 0 {
		restored := make([]selectedvars.SelectedVariable, 0, len(doc.Workspace.SelectedVariables))
		for _, entry := range doc.Workspace.SelectedVariables {
			restored = append(restored, selectedvars.SelectedVariable{
				UniqueID:  entry.UniqueID,
				Formatter: wireToFormatter(entry.Formatter),
			})
		}
		m.vars.VariablesRestoredRelay.Send(restored)
	}

	if doc.Workspace.Timeline.ViewportEndNs > 0 {
		m.tl.StateRestoredRelay.Send(timeline.RestoredState{
			Viewport:     timeps.NewViewport(timeps.FromNanos(doc.Workspace.Timeline.ViewportStartNs), timeps.FromNanos(doc.Workspace.Timeline.ViewportEndNs)),
			Cursor:       timeps.FromNanos(doc.Workspace.Timeline.CursorNs),
			TimePerPixel: timeps.NewTimePerPixel(doc.Workspace.Timeline.PsPerPixel),
		})
	}

	m.mu.Lock()
	if doc.UI.Theme != "" {
		m.theme = ThemeName(doc.UI.Theme)
	}
	if doc.Workspace.DockMode != "" {
		m.dockMode = DockMode(doc.Workspace.DockMode)
	}
	var zeroLayout PanelLayout
	if doc.Workspace.PanelLayouts.DockedToRight != zeroLayout {
		m.panelLayouts.DockedToRight = doc.Workspace.PanelLayouts.DockedToRight
	}
	if doc.Workspace.PanelLayouts.DockedToBottom != zeroLayout {
		m.panelLayouts.DockedToBottom = doc.Workspace.PanelLayouts.DockedToBottom
	}
	m.mu.Unlock()

	m.markInitDone()
}

func (m *Manager) markInitDone() {
	m.initMu.Lock()
	m.initDone = true
	m.initMu.Unlock()
}

func (m *Manager) isInitDone() bool {
	m.initMu.RLock()
	defer m.initMu.RUnlock()
	return m.initDone
}

// load reads and decodes the document at path. A missing file surfaces
// as the underlying os.IsNotExist-compatible error so restore can tell
// "absent" from "malformed" apart.
func load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// run drives the debounced save loop: any change reported by files,
// vars, tl, or this manager's own UI-state relays schedules a save
// saveDebounce after the most recent change, coalescing a burst of
// events into a single write.
func (m *Manager) run(ctx context.Context) {
	fileDiffs, unsub1 := m.files.Diffs()
	defer unsub1()
	varDiffs, unsub2 := m.vars.Diffs()
	defer unsub2()
	tlSignal, unsub3 := m.tl.Signal()
	defer unsub3()
	scopeExpanded, unsub4 := m.files.ScopeExpandedRelay.Subscribe()
	defer unsub4()
	scopeCollapsed, unsub5 := m.files.ScopeCollapsedRelay.Subscribe()
	defer unsub5()
	scopeSelected, unsub6 := m.files.ScopeSelectedRelay.Subscribe()
	defer unsub6()
	dockChanged, unsub7 := m.DockModeChangedRelay.Subscribe()
	defer unsub7()
	themeChanged, unsub8 := m.ThemeChangedRelay.Subscribe()
	defer unsub8()
	layoutChanged, unsub9 := m.PanelLayoutChangedRelay.Subscribe()
	defer unsub9()

	var saveTimer *time.Timer
	scheduleSave := func() {
		if !m.isInitDone() {
			return
		}
		if saveTimer == nil {
			saveTimer = time.AfterFunc(saveDebounce, func() { m.save(ctx) })
			return
		}
		saveTimer.Reset(saveDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-fileDiffs:
			scheduleSave()
		case <-varDiffs:
			scheduleSave()
		case <-tlSignal:
			scheduleSave()
		case <-scopeExpanded:
			scheduleSave()
		case <-scopeCollapsed:
			scheduleSave()
		case <-scopeSelected:
			scheduleSave()
		case dock := <-dockChanged:
			m.mu.Lock()
			m.dockMode = dock
			m.mu.Unlock()
			scheduleSave()
		case theme := <-themeChanged:
			m.mu.Lock()
			m.theme = theme
			m.mu.Unlock()
			scheduleSave()
		case change := <-layoutChanged:
			m.mu.Lock()
			switch change.Dock {
			case DockRight:
				m.panelLayouts.DockedToRight = change.Layout
			case DockBottom:
				m.panelLayouts.DockedToBottom = change.Layout
			}
			m.mu.Unlock()
			scheduleSave()
		}
	}
}

// save builds the current document and writes it atomically. On
// failure it retries once after saveRetryDelay (§7: ConfigIo write
// errors retry once, then toast); a second failure is reported on
// WriteErrorRelay.
func (m *Manager) save(ctx context.Context) {
	doc := m.buildDocument()
	if err := writeAtomic(m.path, doc); err != nil {
		metrics.ConfigWritesTotal.WithLabelValues("error").Inc()
		xlog.WithComponent("sessionconfig").Warn().Err(err).Str("path", m.path).Msg("session config write failed, retrying once")
		time.AfterFunc(saveRetryDelay, func() {
			if err := writeAtomic(m.path, m.buildDocument()); err != nil {
				metrics.ConfigWritesTotal.WithLabelValues("error").Inc()
				xlog.WithComponent("sessionconfig").Error().Err(err).Str("path", m.path).Msg("session config write failed on retry")
				m.WriteErrorRelay.Send(err)
				return
			}
			metrics.ConfigWritesTotal.WithLabelValues("ok").Inc()
		})
		return
	}
	metrics.ConfigWritesTotal.WithLabelValues("ok").Inc()
}

func (m *Manager) buildDocument() Document {
	m.mu.RLock()
	dockMode, theme, layouts := m.dockMode, m.theme, m.panelLayouts
	m.mu.RUnlock()

	opened := make([]string, 0)
	for _, tf := range m.files.Snapshot() {
		opened = append(opened, tf.ID)
	}

	selected := m.vars.Snapshot()
	entries := make([]SelectedVariableEntry, 0, len(selected))
	for _, v := range selected {
		entries = append(entries, SelectedVariableEntry{UniqueID: v.UniqueID, Formatter: formatterToWire(v.Formatter)})
	}

	tlState := m.tl.Snapshot()

	return Document{
		App: AppSection{Version: m.version},
		UI:  UISection{Theme: string(theme)},
		Workspace: WorkspaceSection{
			OpenedFiles:       opened,
			SelectedVariables: entries,
			ExpandedScopes:    m.files.ExpandedScopes(),
			SelectedScopeID:   m.files.SelectedScope(),
			DockMode:          string(dockMode),
			PanelLayouts:      layouts,
			Timeline: TimelineSection{
				CursorNs:        tlState.Cursor.Nanos(),
				ViewportStartNs: tlState.Viewport.Start.Nanos(),
				ViewportEndNs:   tlState.Viewport.End.Nanos(),
				PsPerPixel:      uint64(tlState.TimePerPixel),
			},
		},
	}
}

// writeAtomic is the renameio pattern from write_unix.go: a pending
// file is written in full, then atomically renamed over the target,
// fsync'd first so a crash mid-write never leaves a torn document.
func writeAtomic(path string, doc Document) error {
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = pendingFile.Cleanup()
	}()

	enc := toml.NewEncoder(pendingFile)
	if err := enc.Encode(doc); err != nil {
		return err
	}

	return pendingFile.CloseAtomicallyReplace()
}

// DockMode, Theme, and PanelLayout return the manager's current
// UI-state snapshot, used by the wiring layer to seed whatever actually
// renders the dock/theme/layout — sessionconfig has no view of its
// own.
func (m *Manager) DockMode() DockMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dockMode
}

func (m *Manager) Theme() ThemeName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.theme
}

func (m *Manager) PanelLayout(dock DockMode) PanelLayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dock == DockBottom {
		return m.panelLayouts.DockedToBottom
	}
	return m.panelLayouts.DockedToRight
}
