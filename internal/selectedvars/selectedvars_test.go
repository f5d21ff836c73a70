// SPDX-License-Identifier: MIT

package selectedvars

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDiff(t *testing.T, ch <-chan VecDiff) VecDiff {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for diff")
		return VecDiff{}
	}
}

func TestClickTogglesAddThenRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx)
	diffs, unsub := m.Diffs()
	defer unsub()

	v := SelectedVariable{UniqueID: "f1|top|clk"}
	m.VariableClickedRelay.Send(v)
	d := waitDiff(t, diffs)
	assert.Equal(t, DiffInsert, d.Kind)
	assert.Equal(t, DefaultFormatter, d.Var.Formatter)
	require.Len(t, m.Snapshot(), 1)

	m.VariableClickedRelay.Send(v)
	d = waitDiff(t, diffs)
	assert.Equal(t, DiffRemove, d.Kind)
	assert.Empty(t, m.Snapshot())
}

func TestBatchToggleAllAddsInOneDiff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx)
	diffs, unsub := m.Diffs()
	defer unsub()

	vars := []SelectedVariable{
		{UniqueID: "f1|top|a"},
		{UniqueID: "f1|top|b"},
	}
	m.BatchVariablesToggledRelay.Send(vars)
	d := waitDiff(t, diffs)
	assert.Equal(t, DiffBatch, d.Kind)
	assert.Len(t, d.Added, 2)
	assert.Len(t, m.Snapshot(), 2)
}

func TestFileRemovedCascadesToSelection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.VariableClickedRelay.Send(SelectedVariable{UniqueID: "f1|top|clk"})
	waitDiff(t, diffs)
	m.VariableClickedRelay.Send(SelectedVariable{UniqueID: "f2|top|clk"})
	waitDiff(t, diffs)

	m.FileRemovedRelay.Send("f1")
	d := waitDiff(t, diffs)
	assert.Equal(t, DiffBatch, d.Kind)
	assert.Equal(t, []string{"f1|top|clk"}, d.Removed)
	require.Len(t, m.Snapshot(), 1)
	assert.Equal(t, "f2|top|clk", m.Snapshot()[0].UniqueID)
}

func TestReorderDropsUnknownIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.VariableClickedRelay.Send(SelectedVariable{UniqueID: "f1|top|a"})
	waitDiff(t, diffs)
	m.VariableClickedRelay.Send(SelectedVariable{UniqueID: "f1|top|b"})
	waitDiff(t, diffs)

	m.VariablesReorderedRelay.Send([]string{"f1|top|b", "f1|top|a", "ghost"})
	d := waitDiff(t, diffs)
	assert.Equal(t, []string{"f1|top|b", "f1|top|a"}, d.Order)
}

func TestFilterTextChangedUpdatesFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx)
	changes, unsub := m.FilterChanges()
	defer unsub()

	m.FilterTextChangedRelay.Send("clk")
	select {
	case got := <-changes:
		assert.Equal(t, "clk", got)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	assert.Equal(t, "clk", m.Filter())
}

func TestFileIDOfExtractsPrefix(t *testing.T) {
	assert.Equal(t, "f1", FileIDOf("f1|top|clk"))
}
