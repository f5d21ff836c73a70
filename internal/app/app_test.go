// SPDX-License-Identifier: MIT

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/selectedvars"
	"github.com/novywave/novywave-core/internal/timeps"
	"github.com/novywave/novywave-core/internal/trackedfiles"
)

func newTestApp(t *testing.T, gateway parsergw.Gateway) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	path := filepath.Join(t.TempDir(), "session.toml")
	return New(ctx, gateway, path, "test")
}

func TestDroppedFileParsesAndBecomesLoaded(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{
		Header: parsergw.WaveformHeader{
			Format:    parsergw.FormatVCD,
			MinTimePs: 0,
			MaxTimePs: timeps.TimePs(1000),
		},
	})

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})

	require.Eventually(t, func() bool {
		for _, tf := range a.Files.Snapshot() {
			if tf.ID == "/waves/top.vcd" && tf.State.Kind == trackedfiles.StateLoaded {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestFailedParseReportsErrorSurface(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.FailHeader = &parsergw.ParseError{Kind: parsergw.ErrCorrupt, Path: "/waves/broken.vcd"}

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/broken.vcd"})

	require.Eventually(t, func() bool {
		for _, tf := range a.Files.Snapshot() {
			if tf.ID == "/waves/broken.vcd" && tf.State.Kind == trackedfiles.StateFailed {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(a.Errors.Snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestParseRetriesOnceAfterHeaderTimeout(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{
		Header: parsergw.WaveformHeader{Format: parsergw.FormatVCD, MaxTimePs: timeps.TimePs(1000)},
	})
	gw.TimeoutNextReadHeader = true

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})

	require.Eventually(t, func() bool {
		for _, tf := range a.Files.Snapshot() {
			if tf.ID == "/waves/top.vcd" && tf.State.Kind == trackedfiles.StateLoaded {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "a single ReadHeader timeout must be absorbed by the doubled-deadline retry")
}

func TestParseFailsAfterSecondHeaderTimeout(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.FailHeader = &parsergw.ParseError{Kind: parsergw.ErrTimeout, Path: "/waves/slow.vcd"}
	gw.TimeoutNextReadHeader = true

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/slow.vcd"})

	require.Eventually(t, func() bool {
		for _, tf := range a.Files.Snapshot() {
			if tf.ID == "/waves/slow.vcd" && tf.State.Kind == trackedfiles.StateFailed {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "second consecutive timeout surfaces as a failed parse")
}

func TestMaximumRangeTracksLoadedAndSelectedFiles(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{
		Header: parsergw.WaveformHeader{
			Format:    parsergw.FormatVCD,
			MinTimePs: 0,
			MaxTimePs: timeps.TimePs(5000),
		},
	})

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})

	require.Eventually(t, func() bool {
		return !a.Timeline.Snapshot().HasMaximumRange
	}, time.Second, 10*time.Millisecond, "no selection yet, so no maximum range")

	a.Vars.VariableClickedRelay.Send(selectedvars.SelectedVariable{UniqueID: "/waves/top.vcd|top|clk"})

	require.Eventually(t, func() bool {
		state := a.Timeline.Snapshot()
		return state.HasMaximumRange && state.MaximumRange == timeps.NewViewport(0, timeps.TimePs(5000))
	}, time.Second, 10*time.Millisecond)
}

func TestRemovingFileClearsItsSelectionAndHandle(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{
		Header: parsergw.WaveformHeader{Format: parsergw.FormatVCD, MaxTimePs: timeps.TimePs(100)},
	})

	a := newTestApp(t, gw)
	a.Files.FilesDroppedRelay.Send([]string{"/waves/top.vcd"})
	require.Eventually(t, func() bool {
		_, ok := a.handle("/waves/top.vcd")
		return ok
	}, time.Second, 10*time.Millisecond)

	a.Vars.VariableClickedRelay.Send(selectedvars.SelectedVariable{UniqueID: "/waves/top.vcd|top|clk"})
	a.Files.FileRemovedRelay.Send("/waves/top.vcd")

	require.Eventually(t, func() bool {
		return len(a.Vars.Snapshot()) == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := a.handle("/waves/top.vcd")
	assert.False(t, ok)
}
