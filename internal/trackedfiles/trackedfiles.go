// SPDX-License-Identifier: MIT

// Package trackedfiles owns the ordered set of waveform files the user
// has opened: their load lifecycle, smart labels, and scope-tree
// expansion/selection state. All mutation flows through the Manager's
// public relays; readers observe state via Snapshot or the diff stream,
// never a synchronous getter into file internals.
package trackedfiles

import (
	"context"
	"sort"
	"sync"

	"github.com/novywave/novywave-core/internal/core/pathutil"
	"github.com/novywave/novywave-core/internal/fsm"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/xlog"
)

// FileStateKind is the tag of a TrackedFile's lifecycle state.
type FileStateKind string

const (
	StateLoading     FileStateKind = "loading"
	StateLoaded      FileStateKind = "loaded"
	StateFailed      FileStateKind = "failed"
	StateMissing     FileStateKind = "missing"
	StateUnsupported FileStateKind = "unsupported"
)

// FileState is the tagged-variant state of a single tracked file. Only
// the fields relevant to Kind are meaningful.
type FileState struct {
	Kind FileStateKind

	Progress float64 // StateLoading

	Header parsergw.WaveformHeader // StateLoaded

	ErrorKind    parsergw.ErrorKind // StateFailed
	ErrorContext string             // StateFailed

	MissingPath string // StateMissing

	Extension string // StateUnsupported
}

// TrackedFile is one entry in the tracked set.
type TrackedFile struct {
	ID          string // canonical path
	DisplayPath string
	Filename    string
	SmartLabel  string
	State       FileState
}

// fsm event names, internal to this package.
const (
	evEnqueue  = "enqueue"
	evProgress = "progress"
	evLoaded   = "loaded"
	evFailed   = "failed"
	evMissing  = "missing"
	evReload   = "reload"
)

func newFileMachine(initial FileStateKind) (*fsm.Machine[FileStateKind, string], error) {
	return fsm.New(initial, []fsm.Transition[FileStateKind, string]{
		{From: StateLoading, Event: evProgress, To: StateLoading},
		{From: StateLoading, Event: evLoaded, To: StateLoaded},
		{From: StateLoading, Event: evFailed, To: StateFailed},
		{From: StateLoaded, Event: evMissing, To: StateMissing},
		{From: StateLoaded, Event: evReload, To: StateLoading},
		{From: StateFailed, Event: evMissing, To: StateMissing},
		{From: StateFailed, Event: evReload, To: StateLoading},
		{From: StateMissing, Event: evReload, To: StateLoading},
		{From: StateUnsupported, Event: evReload, To: StateLoading},
	})
}

// Manager owns the tracked-file set. Construct with NewManager and drive
// it exclusively through its relays; Snapshot, LoadedFileIDs,
// ExpandedScopes, SelectedScope and Header are the only synchronous
// reads, and all return copies.
type Manager struct {
	gateway parsergw.Gateway

	mu       sync.RWMutex
	order    []string
	files    map[string]*TrackedFile
	machines map[string]*fsm.Machine[FileStateKind, string]

	expandedScopes map[string]bool
	selectedScope  string

	diffs *reactive.Relay[VecDiff]

	// Inbound relays: event sources send on these.
	FilesDroppedRelay          *reactive.Relay[[]string]
	FilePickerConfirmedRelay   *reactive.Relay[[]string]
	FileRemovedRelay           *reactive.Relay[string]
	AllFilesClearedRelay       *reactive.Relay[struct{}]
	PluginReloadRequestedRelay *reactive.Relay[[]string]
	ParsingProgressRelay       *reactive.Relay[ProgressEvent]
	ParsingCompletedRelay      *reactive.Relay[CompletedEvent]
	ParsingFailedRelay         *reactive.Relay[FailedEvent]
	ConfigFilesLoadedRelay     *reactive.Relay[[]string]
	ScopeExpandedRelay         *reactive.Relay[string]
	ScopeCollapsedRelay        *reactive.Relay[string]
	ScopeSelectedRelay         *reactive.Relay[string]
}

// ProgressEvent reports fractional load progress for one file.
type ProgressEvent struct {
	ID       string
	Fraction float64
}

// CompletedEvent reports a successful parse.
type CompletedEvent struct {
	ID     string
	Header parsergw.WaveformHeader
}

// FailedEvent reports a parse failure.
type FailedEvent struct {
	ID  string
	Err *parsergw.ParseError
}

// VecDiffKind enumerates the kinds of change Manager.Diffs emits.
type VecDiffKind int

const (
	DiffInsert VecDiffKind = iota
	DiffUpdate
	DiffRemove
	DiffClear
)

// VecDiff is one change to the tracked-file set, carrying a copy of the
// affected file (zero value for DiffClear).
type VecDiff struct {
	Kind VecDiffKind
	File TrackedFile
}

// NewManager constructs an empty manager and starts its event-processing
// goroutine, which runs until ctx is canceled.
func NewManager(ctx context.Context, gateway parsergw.Gateway) *Manager {
	m := &Manager{
		gateway:                    gateway,
		files:                      make(map[string]*TrackedFile),
		machines:                   make(map[string]*fsm.Machine[FileStateKind, string]),
		expandedScopes:             make(map[string]bool),
		diffs:                      reactive.NewRelay[VecDiff]("tracked_files_diff_relay"),
		FilesDroppedRelay:          reactive.NewRelay[[]string]("files_dropped_relay"),
		FilePickerConfirmedRelay:   reactive.NewRelay[[]string]("file_picker_confirmed_relay"),
		FileRemovedRelay:           reactive.NewRelay[string]("file_removed_relay"),
		AllFilesClearedRelay:       reactive.NewRelay[struct{}]("all_files_cleared_relay"),
		PluginReloadRequestedRelay: reactive.NewRelay[[]string]("plugin_reload_requested_relay"),
		ParsingProgressRelay:       reactive.NewRelay[ProgressEvent]("parsing_progress_relay"),
		ParsingCompletedRelay:      reactive.NewRelay[CompletedEvent]("parsing_completed_relay"),
		ParsingFailedRelay:         reactive.NewRelay[FailedEvent]("parsing_failed_relay"),
		ConfigFilesLoadedRelay:     reactive.NewRelay[[]string]("config_files_loaded_relay"),
		ScopeExpandedRelay:         reactive.NewRelay[string]("scope_expanded_relay"),
		ScopeCollapsedRelay:        reactive.NewRelay[string]("scope_collapsed_relay"),
		ScopeSelectedRelay:         reactive.NewRelay[string]("scope_selected_relay"),
	}
	go m.run(ctx)
	return m
}

func (m *Manager) run(ctx context.Context) {
	dropped, unsubDropped := m.FilesDroppedRelay.Subscribe()
	defer unsubDropped()
	confirmed, unsubConfirmed := m.FilePickerConfirmedRelay.Subscribe()
	defer unsubConfirmed()
	configLoaded, unsubConfig := m.ConfigFilesLoadedRelay.Subscribe()
	defer unsubConfig()
	pluginReload, unsubPlugin := m.PluginReloadRequestedRelay.Subscribe()
	defer unsubPlugin()
	removed, unsubRemoved := m.FileRemovedRelay.Subscribe()
	defer unsubRemoved()
	cleared, unsubCleared := m.AllFilesClearedRelay.Subscribe()
	defer unsubCleared()
	progress, unsubProgress := m.ParsingProgressRelay.Subscribe()
	defer unsubProgress()
	completed, unsubCompleted := m.ParsingCompletedRelay.Subscribe()
	defer unsubCompleted()
	failed, unsubFailed := m.ParsingFailedRelay.Subscribe()
	defer unsubFailed()
	expanded, unsubExpanded := m.ScopeExpandedRelay.Subscribe()
	defer unsubExpanded()
	collapsed, unsubCollapsed := m.ScopeCollapsedRelay.Subscribe()
	defer unsubCollapsed()
	selected, unsubSelected := m.ScopeSelectedRelay.Subscribe()
	defer unsubSelected()

	for {
		select {
		case <-ctx.Done():
			return
		case paths := <-dropped:
			m.addPaths(ctx, paths)
		case paths := <-confirmed:
			m.addPaths(ctx, paths)
		case paths := <-configLoaded:
			m.addPaths(ctx, paths)
		case paths := <-pluginReload:
			m.reloadPaths(ctx, paths)
		case id := <-removed:
			m.removeFile(id)
		case <-cleared:
			m.clearAll()
		case ev := <-progress:
			m.applyProgress(ev)
		case ev := <-completed:
			m.applyCompleted(ev)
		case ev := <-failed:
			m.applyFailed(ev)
		case id := <-expanded:
			m.mu.Lock()
			m.expandedScopes[id] = true
			m.mu.Unlock()
		case id := <-collapsed:
			m.mu.Lock()
			delete(m.expandedScopes, id)
			m.mu.Unlock()
		case id := <-selected:
			m.mu.Lock()
			m.selectedScope = id
			m.mu.Unlock()
		}
	}
}

func (m *Manager) addPaths(ctx context.Context, paths []string) {
	for _, raw := range paths {
		id, err := pathutil.Canonicalize(raw)
		if err != nil {
			xlog.WithComponent("trackedfiles").Warn().Err(err).Str("path", raw).Msg("failed to canonicalize dropped path")
			continue
		}

		m.mu.Lock()
		_, exists := m.files[id]
		m.mu.Unlock()
		if exists {
			// Duplicate add is treated as a reload intent so the file
			// re-parses without losing its current selection.
			m.reloadPaths(ctx, []string{raw})
			continue
		}

		machine, err := newFileMachine(StateLoading)
		if err != nil {
			continue
		}

		format, _ := m.gateway.DetectFormat(ctx, id)
		tf := &TrackedFile{
			ID:       id,
			Filename: filenameOf(id),
			State:    FileState{Kind: StateLoading},
		}
		if format == parsergw.FormatUnknown && !hasKnownExtension(id) {
			tf.State = FileState{Kind: StateUnsupported, Extension: extensionOf(id)}
		}

		m.mu.Lock()
		m.files[id] = tf
		m.machines[id] = machine
		m.order = append(m.order, id)
		m.recomputeLabelsLocked()
		m.mu.Unlock()

		m.diffs.Send(VecDiff{Kind: DiffInsert, File: *tf})
	}
}

func (m *Manager) reloadPaths(ctx context.Context, paths []string) {
	for _, raw := range paths {
		id, err := pathutil.Canonicalize(raw)
		if err != nil {
			continue
		}
		m.mu.Lock()
		machine, ok := m.machines[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		_, err = machine.Fire(ctx, evReload)
		if err != nil {
			m.mu.Unlock()
			continue
		}
		tf := m.files[id]
		tf.State = FileState{Kind: StateLoading}
		snapshot := *tf
		m.mu.Unlock()

		m.diffs.Send(VecDiff{Kind: DiffUpdate, File: snapshot})
	}
}

func (m *Manager) applyProgress(ev ProgressEvent) {
	m.mu.Lock()
	tf, ok := m.files[ev.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	machine := m.machines[ev.ID]
	m.mu.Unlock()

	if _, err := machine.Fire(context.Background(), evProgress); err != nil {
		return
	}

	m.mu.Lock()
	tf.State = FileState{Kind: StateLoading, Progress: ev.Fraction}
	snapshot := *tf
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffUpdate, File: snapshot})
}

func (m *Manager) applyCompleted(ev CompletedEvent) {
	m.mu.Lock()
	tf, ok := m.files[ev.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	machine := m.machines[ev.ID]
	m.mu.Unlock()

	if _, err := machine.Fire(context.Background(), evLoaded); err != nil {
		return
	}

	m.mu.Lock()
	tf.State = FileState{Kind: StateLoaded, Header: ev.Header}
	snapshot := *tf
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffUpdate, File: snapshot})
}

func (m *Manager) applyFailed(ev FailedEvent) {
	m.mu.Lock()
	tf, ok := m.files[ev.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	machine := m.machines[ev.ID]
	m.mu.Unlock()

	if _, err := machine.Fire(context.Background(), evFailed); err != nil {
		return
	}

	kind := parsergw.ErrIO
	ctxMsg := ""
	if ev.Err != nil {
		kind = ev.Err.Kind
		ctxMsg = ev.Err.Error()
	}

	m.mu.Lock()
	tf.State = FileState{Kind: StateFailed, ErrorKind: kind, ErrorContext: ctxMsg}
	snapshot := *tf
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffUpdate, File: snapshot})
}

// MarkMissing transitions id to StateMissing, called by a filesystem
// watcher when the underlying file disappears.
func (m *Manager) MarkMissing(ctx context.Context, id string) {
	m.mu.Lock()
	tf, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	machine := m.machines[id]
	m.mu.Unlock()

	if _, err := machine.Fire(ctx, evMissing); err != nil {
		return
	}

	m.mu.Lock()
	tf.State = FileState{Kind: StateMissing, MissingPath: id}
	snapshot := *tf
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffUpdate, File: snapshot})
}

func (m *Manager) removeFile(id string) {
	m.mu.Lock()
	tf, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.files, id)
	delete(m.machines, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.recomputeLabelsLocked()
	snapshot := *tf
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffRemove, File: snapshot})
}

func (m *Manager) clearAll() {
	m.mu.Lock()
	m.files = make(map[string]*TrackedFile)
	m.machines = make(map[string]*fsm.Machine[FileStateKind, string])
	m.order = nil
	m.mu.Unlock()

	m.diffs.Send(VecDiff{Kind: DiffClear})
}

// recomputeLabelsLocked must be called with m.mu held.
func (m *Manager) recomputeLabelsLocked() {
	labels := pathutil.SmartLabel(m.order)
	for id, label := range labels {
		if tf, ok := m.files[id]; ok {
			tf.SmartLabel = label
			tf.DisplayPath = label
		}
	}
}

// Snapshot returns the tracked files in their display order.
func (m *Manager) Snapshot() []TrackedFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrackedFile, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.files[id])
	}
	return out
}

// Diffs subscribes to the change stream.
func (m *Manager) Diffs() (<-chan VecDiff, func()) {
	return m.diffs.Subscribe()
}

// LoadedFileIDs returns the IDs of every file currently in StateLoaded,
// sorted for determinism.
func (m *Manager) LoadedFileIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, tf := range m.files {
		if tf.State.Kind == StateLoaded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ExpandedScopes returns the set of currently expanded scope IDs, order
// not significant.
func (m *Manager) ExpandedScopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.expandedScopes))
	for id := range m.expandedScopes {
		out = append(out, id)
	}
	return out
}

// SelectedScope returns the currently selected scope ID, or "" if none.
func (m *Manager) SelectedScope() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectedScope
}

// Header returns the WaveformHeader for a loaded file.
func (m *Manager) Header(id string) (parsergw.WaveformHeader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tf, ok := m.files[id]
	if !ok || tf.State.Kind != StateLoaded {
		return parsergw.WaveformHeader{}, false
	}
	return tf.State.Header, true
}

func filenameOf(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' || id[i] == '\\' {
			return id[i+1:]
		}
	}
	return id
}

func extensionOf(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return id[i:]
		}
		if id[i] == '/' || id[i] == '\\' {
			break
		}
	}
	return ""
}

func hasKnownExtension(id string) bool {
	switch extensionOf(id) {
	case ".vcd", ".fst", ".ghw":
		return true
	default:
		return false
	}
}
