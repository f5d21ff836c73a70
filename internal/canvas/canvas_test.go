// SPDX-License-Identifier: MIT

package canvas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/selectedvars"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeline"
	"github.com/novywave/novywave-core/internal/timeps"
)

type fakeTimeline struct {
	ch    chan timeline.State
	state timeline.State
}

func newFakeTimeline(st timeline.State) *fakeTimeline {
	return &fakeTimeline{ch: make(chan timeline.State, 4), state: st}
}
func (f *fakeTimeline) Signal() (<-chan timeline.State, func()) { return f.ch, func() {} }
func (f *fakeTimeline) Snapshot() timeline.State                { return f.state }

type fakeSelection struct {
	ch   chan selectedvars.VecDiff
	vars []selectedvars.SelectedVariable
}

func newFakeSelection(vars []selectedvars.SelectedVariable) *fakeSelection {
	return &fakeSelection{ch: make(chan selectedvars.VecDiff, 4), vars: vars}
}
func (f *fakeSelection) Snapshot() []selectedvars.SelectedVariable { return f.vars }
func (f *fakeSelection) Diffs() (<-chan selectedvars.VecDiff, func()) { return f.ch, func() {} }

type fakeHeaders struct {
	headers map[string]parsergw.WaveformHeader
}

func (f *fakeHeaders) Header(fileID string) (parsergw.WaveformHeader, bool) {
	h, ok := f.headers[fileID]
	return h, ok
}

func testHeader() parsergw.WaveformHeader {
	return parsergw.WaveformHeader{
		Scopes: []parsergw.Scope{{
			FullName: "top",
			Variables: []parsergw.Variable{
				{Name: "clk", Encoding: parsergw.SignalEncoding{Kind: parsergw.EncodingBitVector, Width: 1}},
				{Name: "data", Encoding: parsergw.SignalEncoding{Kind: parsergw.EncodingBitVector, Width: 8}},
			},
		}},
	}
}

func baseState() timeline.State {
	return timeline.State{
		Viewport:       timeps.NewViewport(0, 1000),
		Cursor:         timeps.TimePs(500),
		TimePerPixel:   timeps.NewTimePerPixel(10),
		CanvasWidthPx:  100,
		CanvasHeightPx: 200,
	}
}

func TestRenderFrameProducesAxisAndRowCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := signalcache.NewCache()
	cache.UpsertTransitions("f1|top|clk", []parsergw.Transition{
		{TimePs: 0, ValueBits: "0"},
		{TimePs: 500, ValueBits: "1"},
	})

	tl := newFakeTimeline(baseState())
	sel := newFakeSelection([]selectedvars.SelectedVariable{{UniqueID: "f1|top|clk", Formatter: selectedvars.FormatHex}})
	headers := &fakeHeaders{headers: map[string]parsergw.WaveformHeader{"f1": testHeader()}}

	e := NewEngine(ctx, tl, sel, cache, headers)
	frames, unsub := e.Frames()
	defer unsub()

	select {
	case f := <-frames:
		assert.NotEmpty(t, f.Commands)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first frame")
	}
}

func TestFormatValueHex(t *testing.T) {
	assert.Equal(t, "a", formatValue("1010", selectedvars.FormatHex))
}

func TestFormatValueUnknownBitsPassThrough(t *testing.T) {
	assert.Equal(t, "1x0", formatValue("1x0", selectedvars.FormatHex))
}

func TestFormatValueSignedNegative(t *testing.T) {
	assert.Equal(t, "-1", formatValue("1111", selectedvars.FormatSigned))
}

func TestAxisCommandsEmitsTickLabels(t *testing.T) {
	e := &Engine{}

	tl := timeline.State{
		Viewport:      timeps.NewViewport(0, 1_000_000),
		TimePerPixel:  timeps.NewTimePerPixel(1000),
		CanvasWidthPx: 1000,
	}
	cmds := e.axisCommands(tl, DefaultTheme())

	require.Greater(t, len(cmds), 1, "background rect plus at least one tick")
	assert.Equal(t, CmdRect, cmds[0].Kind)
	for _, c := range cmds[1:] {
		assert.Equal(t, CmdText, c.Kind)
		assert.NotEmpty(t, c.Text)
	}
}

func TestAxisCommandsEmptyViewportOnlyDrawsBackground(t *testing.T) {
	e := &Engine{}
	tl := timeline.State{Viewport: timeps.NewViewport(0, 0), TimePerPixel: timeps.NewTimePerPixel(1), CanvasWidthPx: 100}
	cmds := e.axisCommands(tl, DefaultTheme())
	require.Len(t, cmds, 1)
	assert.Equal(t, CmdRect, cmds[0].Kind)
}

func TestTickIntervalClearsTargetSpacing(t *testing.T) {
	tpp := timeps.NewTimePerPixel(1000)
	step := tickInterval(tpp, 100)
	assert.GreaterOrEqual(t, float64(step), 100*float64(tpp))
}

func TestCursorCommandsUsesGroupedFormat(t *testing.T) {
	e := &Engine{}
	tl := baseState()
	cmds := e.cursorCommands(tl, DefaultTheme(), 2)
	require.Len(t, cmds, 2)
	assert.Equal(t, timeps.FormatGrouped(timeps.DurationPs(tl.Cursor)), cmds[1].Text)
}

func TestDensifyCollapsesSubPixelTransitions(t *testing.T) {
	series := []parsergw.Transition{
		{TimePs: 0, ValueBits: "0"},
		{TimePs: 1, ValueBits: "1"},
		{TimePs: 2, ValueBits: "0"},
		{TimePs: 500, ValueBits: "1"},
	}
	vp := timeps.NewViewport(0, 1000)
	tpp := timeps.NewTimePerPixel(10)

	segs := densify(series, vp, tpp)
	require.Len(t, segs, 2)
	assert.Equal(t, timeps.TimePs(500), segs[1].start)
}

func TestValueAtOrBeforeFindsLatestPriorTransition(t *testing.T) {
	series := []parsergw.Transition{
		{TimePs: 0, ValueBits: "0"},
		{TimePs: 100, ValueBits: "1"},
		{TimePs: 200, ValueBits: "0"},
	}
	assert.Equal(t, "1", valueAtOrBefore(series, timeps.TimePs(150)))
	assert.Equal(t, "0", valueAtOrBefore(series, timeps.TimePs(0)))
}

func TestHandleHoverOutsideRowsClearsInfo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := signalcache.NewCache()
	tl := newFakeTimeline(baseState())
	sel := newFakeSelection(nil)
	headers := &fakeHeaders{headers: map[string]parsergw.WaveformHeader{}}

	e := NewEngine(ctx, tl, sel, cache, headers)
	hover, unsub := e.HoverInfo(ctx)
	defer unsub()

	// drain the initial replay value
	<-hover

	e.MouseMovedRelay.Send(MouseMoved{XPx: 10, YPx: 5})

	select {
	case info := <-hover:
		assert.False(t, info.Present)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hover update")
	}
}
