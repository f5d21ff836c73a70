// SPDX-License-Identifier: MIT

// Package selectedvars owns the ordered list of variables the user has
// selected for display, each with its own display formatter, plus the
// filter text used to narrow the scope tree while picking new variables.
package selectedvars

import (
	"context"
	"strings"
	"sync"

	"github.com/novywave/novywave-core/internal/reactive"
)

// Formatter is how a selected variable's bits render in the waveform
// panel.
type Formatter string

const (
	FormatASCII        Formatter = "ascii"
	FormatBinary       Formatter = "binary"
	FormatBinaryGroups Formatter = "binary_groups"
	FormatHex          Formatter = "hex"
	FormatOctal        Formatter = "octal"
	FormatSigned       Formatter = "signed"
	FormatUnsigned     Formatter = "unsigned"
)

// DefaultFormatter is applied to a variable selected for the first time.
const DefaultFormatter = FormatHex

// SelectedVariable is one entry in the display order.
type SelectedVariable struct {
	UniqueID  string
	Formatter Formatter
}

// FileIDOf extracts the owning file ID from a "<file_id>|<scope>|<var>"
// unique_id.
func FileIDOf(uniqueID string) string {
	if i := strings.IndexByte(uniqueID, '|'); i >= 0 {
		return uniqueID[:i]
	}
	return uniqueID
}

// VecDiffKind enumerates the kinds of change Manager.Diffs emits.
type VecDiffKind int

const (
	DiffInsert VecDiffKind = iota
	DiffRemove
	DiffReorder
	DiffClear
	DiffBatch
)

// VecDiff is one change to the selection.
type VecDiff struct {
	Kind    VecDiffKind
	Var     SelectedVariable
	Order   []string // DiffReorder: the new full ordering of unique_ids
	Added   []SelectedVariable
	Removed []string
}

// Manager owns the selection. Construct with NewManager and drive it
// through its relays.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]SelectedVariable
	filter  string

	diffs        *reactive.Relay[VecDiff]
	filterRelay  *reactive.Relay[string]

	VariableClickedRelay        *reactive.Relay[SelectedVariable]
	VariableRemovedRelay        *reactive.Relay[string]
	VariablesReorderedRelay     *reactive.Relay[[]string]
	SelectionClearedRelay       *reactive.Relay[struct{}]
	BatchVariablesToggledRelay  *reactive.Relay[[]SelectedVariable]
	VariablesRestoredRelay      *reactive.Relay[[]SelectedVariable]
	FileRemovedRelay            *reactive.Relay[string]
	FilterTextChangedRelay      *reactive.Relay[string]
	FilterClearedRelay          *reactive.Relay[struct{}]
}

// NewManager constructs an empty selection manager and starts its event
// loop, which runs until ctx is canceled.
func NewManager(ctx context.Context) *Manager {
	m := &Manager{
		byID:                       make(map[string]SelectedVariable),
		diffs:                      reactive.NewRelay[VecDiff]("selected_variables_diff_relay"),
		filterRelay:                reactive.NewRelay[string]("selected_variables_filter_relay"),
		VariableClickedRelay:       reactive.NewRelay[SelectedVariable]("variable_clicked_relay"),
		VariableRemovedRelay:       reactive.NewRelay[string]("variable_removed_relay"),
		VariablesReorderedRelay:    reactive.NewRelay[[]string]("variables_reordered_relay"),
		SelectionClearedRelay:      reactive.NewRelay[struct{}]("selection_cleared_relay"),
		BatchVariablesToggledRelay: reactive.NewRelay[[]SelectedVariable]("batch_variables_toggled_relay"),
		VariablesRestoredRelay:     reactive.NewRelay[[]SelectedVariable]("variables_restored_relay"),
		FileRemovedRelay:           reactive.NewRelay[string]("file_removed_relay"),
		FilterTextChangedRelay:     reactive.NewRelay[string]("filter_text_changed_relay"),
		FilterClearedRelay:         reactive.NewRelay[struct{}]("filter_cleared_relay"),
	}
	go m.run(ctx)
	return m
}

func (m *Manager) run(ctx context.Context) {
	clicked, unsub1 := m.VariableClickedRelay.Subscribe()
	defer unsub1()
	removed, unsub2 := m.VariableRemovedRelay.Subscribe()
	defer unsub2()
	reordered, unsub3 := m.VariablesReorderedRelay.Subscribe()
	defer unsub3()
	cleared, unsub4 := m.SelectionClearedRelay.Subscribe()
	defer unsub4()
	batch, unsub5 := m.BatchVariablesToggledRelay.Subscribe()
	defer unsub5()
	restored, unsub6 := m.VariablesRestoredRelay.Subscribe()
	defer unsub6()
	fileRemoved, unsub7 := m.FileRemovedRelay.Subscribe()
	defer unsub7()
	filterChanged, unsub8 := m.FilterTextChangedRelay.Subscribe()
	defer unsub8()
	filterCleared, unsub9 := m.FilterClearedRelay.Subscribe()
	defer unsub9()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-clicked:
			m.toggle(v)
		case id := <-removed:
			m.remove(id)
		case order := <-reordered:
			m.reorder(order)
		case <-cleared:
			m.clear()
		case vars := <-batch:
			m.batchToggle(vars)
		case vars := <-restored:
			m.restore(vars)
		case fileID := <-fileRemoved:
			m.cascadeFileRemoved(fileID)
		case text := <-filterChanged:
			m.setFilter(text)
		case <-filterCleared:
			m.setFilter("")
		}
	}
}

// toggle appends v if absent, removes it if present — a click on an
// already-selected variable deselects it.
func (m *Manager) toggle(v SelectedVariable) {
	m.mu.Lock()
	if _, exists := m.byID[v.UniqueID]; exists {
		m.removeLocked(v.UniqueID)
		m.mu.Unlock()
		m.diffs.Send(VecDiff{Kind: DiffRemove, Var: v})
		return
	}
	if v.Formatter == "" {
		v.Formatter = DefaultFormatter
	}
	m.order = append(m.order, v.UniqueID)
	m.byID[v.UniqueID] = v
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffInsert, Var: v})
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	v, exists := m.byID[id]
	if !exists {
		m.mu.Unlock()
		return
	}
	m.removeLocked(id)
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffRemove, Var: v})
}

func (m *Manager) removeLocked(id string) {
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) reorder(order []string) {
	m.mu.Lock()
	filtered := make([]string, 0, len(order))
	for _, id := range order {
		if _, ok := m.byID[id]; ok {
			filtered = append(filtered, id)
		}
	}
	m.order = filtered
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffReorder, Order: filtered})
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.order = nil
	m.byID = make(map[string]SelectedVariable)
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffClear})
}

// batchToggle applies vars atomically: either all are additions or all
// are removals (determined by the presence of the first element), so
// the canvas sees a single diff.
func (m *Manager) batchToggle(vars []SelectedVariable) {
	if len(vars) == 0 {
		return
	}
	m.mu.Lock()
	_, firstExists := m.byID[vars[0].UniqueID]
	var added []SelectedVariable
	var removedIDs []string
	if firstExists {
		for _, v := range vars {
			if _, ok := m.byID[v.UniqueID]; ok {
				m.removeLocked(v.UniqueID)
				removedIDs = append(removedIDs, v.UniqueID)
			}
		}
	} else {
		for _, v := range vars {
			if _, ok := m.byID[v.UniqueID]; ok {
				continue
			}
			if v.Formatter == "" {
				v.Formatter = DefaultFormatter
			}
			m.order = append(m.order, v.UniqueID)
			m.byID[v.UniqueID] = v
			added = append(added, v)
		}
	}
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffBatch, Added: added, Removed: removedIDs})
}

func (m *Manager) restore(vars []SelectedVariable) {
	m.mu.Lock()
	m.order = make([]string, 0, len(vars))
	m.byID = make(map[string]SelectedVariable, len(vars))
	for _, v := range vars {
		if v.Formatter == "" {
			v.Formatter = DefaultFormatter
		}
		m.order = append(m.order, v.UniqueID)
		m.byID[v.UniqueID] = v
	}
	m.mu.Unlock()
	m.diffs.Send(VecDiff{Kind: DiffBatch, Added: vars})
}

func (m *Manager) cascadeFileRemoved(fileID string) {
	m.mu.Lock()
	var removedIDs []string
	for _, id := range m.order {
		if FileIDOf(id) == fileID {
			removedIDs = append(removedIDs, id)
		}
	}
	for _, id := range removedIDs {
		m.removeLocked(id)
	}
	m.mu.Unlock()
	if len(removedIDs) > 0 {
		m.diffs.Send(VecDiff{Kind: DiffBatch, Removed: removedIDs})
	}
}

func (m *Manager) setFilter(text string) {
	m.mu.Lock()
	m.filter = text
	m.mu.Unlock()
	m.filterRelay.Send(text)
}

// Snapshot returns the current selection in display order.
func (m *Manager) Snapshot() []SelectedVariable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SelectedVariable, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// Filter returns the current filter text.
func (m *Manager) Filter() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// Diffs subscribes to the selection's change stream.
func (m *Manager) Diffs() (<-chan VecDiff, func()) { return m.diffs.Subscribe() }

// FilterChanges subscribes to the filter text stream.
func (m *Manager) FilterChanges() (<-chan string, func()) { return m.filterRelay.Subscribe() }
