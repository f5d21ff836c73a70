// SPDX-License-Identifier: MIT

package trackedfiles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/parsergw"
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

func TestAddPathsInsertsLoadingFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})

	d := waitDiff(t, diffs)
	assert.Equal(t, DiffInsert, d.Kind)
	assert.Equal(t, StateLoading, d.File.State.Kind)
	assert.Equal(t, "top.vcd", d.File.Filename)
}

func TestUnknownExtensionIsUnsupported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/notes.txt"})
	d := waitDiff(t, diffs)
	assert.Equal(t, StateUnsupported, d.File.State.Kind)
}

func TestParsingCompletedTransitionsToLoaded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	waitDiff(t, diffs) // insert

	id := m.Snapshot()[0].ID
	header := parsergw.WaveformHeader{Format: parsergw.FormatVCD}
	m.ParsingCompletedRelay.Send(CompletedEvent{ID: id, Header: header})

	d := waitDiff(t, diffs)
	require.Equal(t, DiffUpdate, d.Kind)
	assert.Equal(t, StateLoaded, d.File.State.Kind)
	assert.Equal(t, parsergw.FormatVCD, d.File.State.Header.Format)
}

func TestParsingFailedKeepsFileInFailedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	waitDiff(t, diffs)

	id := m.Snapshot()[0].ID
	m.ParsingFailedRelay.Send(FailedEvent{ID: id, Err: &parsergw.ParseError{Kind: parsergw.ErrCorrupt}})

	d := waitDiff(t, diffs)
	assert.Equal(t, StateFailed, d.File.State.Kind)
	assert.Equal(t, parsergw.ErrCorrupt, d.File.State.ErrorKind)
}

func TestDuplicateAddTriggersReloadNotSecondInsert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	waitDiff(t, diffs) // insert

	id := m.Snapshot()[0].ID
	m.ParsingCompletedRelay.Send(CompletedEvent{ID: id, Header: parsergw.WaveformHeader{}})
	waitDiff(t, diffs) // update to loaded

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	d := waitDiff(t, diffs)
	assert.Equal(t, DiffUpdate, d.Kind)
	assert.Equal(t, StateLoading, d.File.State.Kind)
	assert.Len(t, m.Snapshot(), 1)
}

func TestRemoveFileEmitsDiffRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	waitDiff(t, diffs)

	id := m.Snapshot()[0].ID
	m.FileRemovedRelay.Send(id)

	d := waitDiff(t, diffs)
	assert.Equal(t, DiffRemove, d.Kind)
	assert.Empty(t, m.Snapshot())
}

func TestSmartLabelsRecomputeOnAdd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := parsergw.NewFakeGateway()
	m := NewManager(ctx, gw)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.FilesDroppedRelay.Send([]string{"/home/a/project/wave.vcd"})
	waitDiff(t, diffs)
	m.FilesDroppedRelay.Send([]string{"/home/b/project/wave.vcd"})
	waitDiff(t, diffs)

	labels := map[string]string{}
	for _, tf := range m.Snapshot() {
		labels[tf.ID] = tf.SmartLabel
	}
	assert.NotEqual(t, labels["/home/a/project/wave.vcd"], labels["/home/b/project/wave.vcd"])
}
