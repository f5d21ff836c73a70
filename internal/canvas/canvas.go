// SPDX-License-Identifier: MIT

// Package canvas turns timeline, selection, and signal-cache state into
// a toolkit-agnostic []DrawCommand per frame. It never touches a real
// drawing surface: the concrete UI paints the commands this package
// produces. A frame scheduler coalesces dirty input signals and renders
// at most once per tick, forcing a redraw every tick while an animation
// flag is active.
package canvas

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/metrics"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/selectedvars"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeline"
	"github.com/novywave/novywave-core/internal/timeps"
)

const (
	// RowHeightPx is the fixed height of every selected-variable row.
	RowHeightPx = 24.0
	// TimeAxisHeightPx is the height of the top tick-label strip.
	TimeAxisHeightPx = 24.0
	// minEdgeGapPx is the minimum pixel gap between two transition edges
	// before they are condensed into a single densified edge.
	minEdgeGapPx = 1.0
	// minFillTextPx is the minimum rectangle width a formatted value
	// label is drawn in; narrower rectangles get a solid filler bar.
	minFillTextPx = 3.0

	// axisTickTargetPx is the minimum on-screen spacing a time-axis tick
	// label is given; the actual tick interval is the smallest 1-2-5
	// magnitude step that clears it.
	axisTickTargetPx = 96.0
	// maxAxisTicks bounds the tick loop regardless of viewport/step
	// combination, so a degenerate zoom level cannot build an unbounded
	// command slice.
	maxAxisTicks = 256

	frameInterval = 16 * time.Millisecond
)

// Color is a toolkit-agnostic RGBA color.
type Color struct{ R, G, B, A uint8 }

// Theme is the color table resolved once at the start of every frame.
type Theme struct {
	RowBackground Color
	Edge          Color
	FillLevel0    Color
	FillLevel1    Color
	UnknownHatch  Color
	Cursor        Color
	Text          Color
}

// DefaultTheme is used until the session config layer restores a saved
// theme.
func DefaultTheme() Theme {
	return Theme{
		RowBackground: Color{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff},
		Edge:          Color{R: 0x80, G: 0xd8, B: 0xff, A: 0xff},
		FillLevel0:    Color{R: 0x2b, G: 0x4a, B: 0x5e, A: 0xff},
		FillLevel1:    Color{R: 0x3e, G: 0x8e, B: 0xc4, A: 0xff},
		UnknownHatch:  Color{R: 0xc0, G: 0x3a, B: 0x3a, A: 0xff},
		Cursor:        Color{R: 0xff, G: 0xc1, B: 0x07, A: 0xff},
		Text:          Color{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff},
	}
}

// CommandKind tags a DrawCommand's shape.
type CommandKind int

const (
	CmdRect CommandKind = iota
	CmdStepLine
	CmdText
	CmdHatchBand
	CmdCursorLine
)

// DrawCommand is one primitive drawn this frame. Only the fields
// relevant to Kind are meaningful.
type DrawCommand struct {
	Kind CommandKind

	X, Y, Width, Height float64
	Color               Color

	Text string // CmdText

	Points []float64 // CmdStepLine: alternating x,y pairs
}

// HoverInfo is the renderer's own pure UI state, updated on mouse_moved.
type HoverInfo struct {
	Present  bool
	Variable string
	TimePs   timeps.TimePs
	Value    string
}

// MouseMoved is the input event driving hover hit-testing.
type MouseMoved struct {
	XPx, YPx float64
}

// HeaderSource resolves a file's parsed header, used to look up a
// selected variable's encoding and name from its unique_id. Satisfied
// by trackedfiles.Manager.
type HeaderSource interface {
	Header(fileID string) (parsergw.WaveformHeader, bool)
}

// TimelineSource supplies the viewport/cursor/dimension state the
// renderer lays out against. Satisfied by timeline.Engine.
type TimelineSource interface {
	Signal() (<-chan timeline.State, func())
	Snapshot() timeline.State
}

// SelectionSource supplies the ordered list of rows to render. Satisfied
// by selectedvars.Manager.
type SelectionSource interface {
	Snapshot() []selectedvars.SelectedVariable
	Diffs() (<-chan selectedvars.VecDiff, func())
}

// DataSource supplies the raw transitions and cursor values backing each
// row. Satisfied by signalcache.Cache.
type DataSource interface {
	Updates() (<-chan signalcache.UpdateEvent, func())
	Transitions(key string) ([]parsergw.Transition, bool)
	CursorValue(key string) (parsergw.SignalValue, bool)
}

// Frame is one rendered output: the commands to draw this tick.
type Frame struct {
	Commands []DrawCommand
}

// Engine builds Frames from timeline, selection, and cache state.
// Construct with NewEngine and drive it through its relays; read output
// via Frames.
type Engine struct {
	timeline  TimelineSource
	selection SelectionSource
	data      DataSource
	headers   HeaderSource

	mu        sync.RWMutex
	tl        timeline.State
	rows      []selectedvars.SelectedVariable
	theme     Theme
	animating bool

	dirty   atomicBool
	frames  *reactive.Relay[Frame]
	hover   *reactive.Atom[HoverInfo]

	MouseMovedRelay  *reactive.Relay[MouseMoved]
	ThemeChangedRelay *reactive.Relay[Theme]
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *atomicBool) swap(v bool) bool {
	b.mu.Lock()
	old := b.v
	b.v = v
	b.mu.Unlock()
	return old
}

// NewEngine constructs a renderer over the given sources and starts its
// event loop and frame scheduler. Cancel ctx to stop both.
func NewEngine(ctx context.Context, tl TimelineSource, sel SelectionSource, data DataSource, headers HeaderSource) *Engine {
	e := &Engine{
		timeline:  tl,
		selection: sel,
		data:      data,
		headers:   headers,
		tl:        tl.Snapshot(),
		rows:      sel.Snapshot(),
		theme:     DefaultTheme(),

		frames: reactive.NewRelay[Frame]("canvas_frames_relay"),
		hover:  reactive.NewAtom(ctx, HoverInfo{}),

		MouseMovedRelay:   reactive.NewRelay[MouseMoved]("mouse_moved_relay"),
		ThemeChangedRelay: reactive.NewRelay[Theme]("theme_changed_relay"),
	}
	e.dirty.set(true)

	go e.run(ctx)
	go e.schedule(ctx)
	return e
}

func (e *Engine) run(ctx context.Context) {
	tlCh, tlUnsub := e.timeline.Signal()
	defer tlUnsub()
	selCh, selUnsub := e.selection.Diffs()
	defer selUnsub()
	dataCh, dataUnsub := e.data.Updates()
	defer dataUnsub()
	mouseCh, mouseUnsub := e.MouseMovedRelay.Subscribe()
	defer mouseUnsub()
	themeCh, themeUnsub := e.ThemeChangedRelay.Subscribe()
	defer themeUnsub()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-tlCh:
			e.mu.Lock()
			e.tl = st
			e.animating = st.PanningLeft || st.PanningRight || st.ZoomingIn || st.ZoomingOut ||
				st.CursorMovingLeft || st.CursorMovingRight
			e.mu.Unlock()
			e.dirty.set(true)
		case <-selCh:
			e.mu.Lock()
			e.rows = e.selection.Snapshot()
			e.mu.Unlock()
			e.dirty.set(true)
		case <-dataCh:
			e.dirty.set(true)
		case m := <-mouseCh:
			e.handleHover(m)
		case th := <-themeCh:
			e.mu.Lock()
			e.theme = th
			e.mu.Unlock()
			e.dirty.set(true)
		}
	}
}

func (e *Engine) schedule(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			animating := e.animating
			e.mu.RUnlock()

			if !e.dirty.swap(false) && !animating {
				continue
			}
			if animating {
				e.dirty.set(false)
			}
			e.renderFrame()
		}
	}
}

func (e *Engine) renderFrame() {
	start := time.Now()
	defer func() {
		metrics.CanvasFrameDuration.Observe(time.Since(start).Seconds())
	}()

	e.mu.RLock()
	tl := e.tl
	rows := append([]selectedvars.SelectedVariable(nil), e.rows...)
	theme := e.theme
	e.mu.RUnlock()

	if tl.CanvasWidthPx <= 0 {
		e.frames.Send(Frame{})
		return
	}

	var cmds []DrawCommand
	cmds = append(cmds, e.axisCommands(tl, theme)...)
	for i, v := range rows {
		y := TimeAxisHeightPx + float64(i)*RowHeightPx
		cmds = append(cmds, e.rowCommands(v, tl, theme, y)...)
	}
	cmds = append(cmds, e.cursorCommands(tl, theme, len(rows))...)

	e.frames.Send(Frame{Commands: cmds})
}

// axisCommands draws the time-axis background plus one CmdText tick
// label per tickInterval step covering the visible viewport.
func (e *Engine) axisCommands(tl timeline.State, theme Theme) []DrawCommand {
	cmds := []DrawCommand{{
		Kind: CmdRect, X: 0, Y: 0, Width: float64(tl.CanvasWidthPx), Height: TimeAxisHeightPx,
		Color: theme.RowBackground,
	}}
	if tl.Viewport.Empty() || tl.TimePerPixel == 0 {
		return cmds
	}

	step := tickInterval(tl.TimePerPixel, axisTickTargetPx)
	first := timeps.TimePs((uint64(tl.Viewport.Start) / uint64(step)) * uint64(step))
	if first < tl.Viewport.Start {
		first = first.SaturatingAdd(step)
	}

	for t, n := first, 0; t <= tl.Viewport.End && n < maxAxisTicks; t, n = t.SaturatingAdd(step), n+1 {
		x := tl.Viewport.PixelOffset(t, tl.TimePerPixel)
		cmds = append(cmds, DrawCommand{
			Kind:  CmdText,
			X:     x,
			Y:     TimeAxisHeightPx / 2,
			Text:  timeps.FormatGrouped(timeps.DurationPs(t)),
			Color: theme.Text,
		})
	}
	return cmds
}

// tickInterval picks the smallest 1-2-5 * 10^n picosecond spacing whose
// on-screen width is at least targetPx, so tick labels never crowd.
func tickInterval(tpp timeps.TimePerPixel, targetPx float64) timeps.DurationPs {
	minPs := targetPx * float64(tpp)
	if minPs < 1 {
		return 1
	}
	mag := math.Pow(10, math.Floor(math.Log10(minPs)))
	for _, mult := range [...]float64{1, 2, 5, 10} {
		if step := mag * mult; step >= minPs {
			return timeps.DurationPs(step)
		}
	}
	return timeps.DurationPs(mag * 10)
}

func (e *Engine) rowCommands(v selectedvars.SelectedVariable, tl timeline.State, theme Theme, y float64) []DrawCommand {
	cmds := []DrawCommand{{Kind: CmdRect, X: 0, Y: y, Width: float64(tl.CanvasWidthPx), Height: RowHeightPx, Color: theme.RowBackground}}

	series, ok := e.data.Transitions(v.UniqueID)
	if !ok || len(series) == 0 {
		return cmds
	}

	variable, _ := e.resolveVariable(v.UniqueID)
	bitVector1 := variable.Encoding.Kind == parsergw.EncodingBitVector && variable.Encoding.Width <= 1

	segments := densify(series, tl.Viewport, tl.TimePerPixel)

	if bitVector1 {
		return append(cmds, stepCurve(segments, tl, theme, y)...)
	}

	for i, seg := range segments {
		x0 := tl.Viewport.PixelOffset(seg.start, tl.TimePerPixel)
		x1 := float64(tl.CanvasWidthPx)
		if i+1 < len(segments) {
			x1 = tl.Viewport.PixelOffset(segments[i+1].start, tl.TimePerPixel)
		}
		width := x1 - x0
		if width < 0 {
			continue
		}

		if isUnknown(seg.bits) {
			cmds = append(cmds, DrawCommand{Kind: CmdHatchBand, X: x0, Y: y, Width: width, Height: RowHeightPx, Color: theme.UnknownHatch})
			continue
		}

		if width < minFillTextPx {
			cmds = append(cmds, DrawCommand{Kind: CmdRect, X: x0, Y: y + 2, Width: width, Height: RowHeightPx - 4, Color: theme.FillLevel1})
			continue
		}
		label := formatValue(seg.bits, v.Formatter)
		cmds = append(cmds, DrawCommand{Kind: CmdRect, X: x0, Y: y + 2, Width: width, Height: RowHeightPx - 4, Color: theme.FillLevel1})
		cmds = append(cmds, DrawCommand{Kind: CmdText, X: x0, Y: y + RowHeightPx/2, Width: width, Text: truncateLabel(label, width), Color: theme.Text})
	}
	return cmds
}

// stepCurve builds one two-level step-line command per run of known-valued
// segments plus hatch bands over any unknown-valued segment, for a
// BitVector(1) row.
func stepCurve(segments []segment, tl timeline.State, theme Theme, y float64) []DrawCommand {
	const high, low = 2.0, RowHeightPx - 2.0

	var points []float64
	var cmds []DrawCommand

	levelY := func(bits string) float64 {
		if bits == "1" {
			return y + high
		}
		return y + low
	}

	for i, seg := range segments {
		x0 := tl.Viewport.PixelOffset(seg.start, tl.TimePerPixel)
		x1 := float64(tl.CanvasWidthPx)
		if i+1 < len(segments) {
			x1 = tl.Viewport.PixelOffset(segments[i+1].start, tl.TimePerPixel)
		}

		if isUnknown(seg.bits) {
			if len(points) > 0 {
				cmds = append(cmds, DrawCommand{Kind: CmdStepLine, Points: points, Color: theme.Edge})
			}
			cmds = append(cmds, DrawCommand{Kind: CmdHatchBand, X: x0, Y: y, Width: x1 - x0, Height: RowHeightPx, Color: theme.UnknownHatch})
			points = nil
			continue
		}

		yLevel := levelY(seg.bits)
		if len(points) == 0 {
			points = append(points, x0, yLevel)
		} else {
			points = append(points, x0, points[len(points)-1], x0, yLevel)
		}
		points = append(points, x1, yLevel)
	}

	if len(points) > 0 {
		cmds = append([]DrawCommand{{Kind: CmdStepLine, Points: points, Color: theme.Edge}}, cmds...)
	}
	return cmds
}

func (e *Engine) cursorCommands(tl timeline.State, theme Theme, rowCount int) []DrawCommand {
	height := TimeAxisHeightPx + float64(rowCount)*RowHeightPx
	x := tl.Viewport.PixelOffset(tl.Cursor, tl.TimePerPixel)
	return []DrawCommand{
		{Kind: CmdCursorLine, X: x, Y: 0, Height: height, Color: theme.Cursor},
		{Kind: CmdText, X: x, Y: 0, Text: timeps.FormatGrouped(timeps.DurationPs(tl.Cursor)), Color: theme.Text},
	}
}

func (e *Engine) resolveVariable(uniqueID string) (parsergw.Variable, bool) {
	fileID := selectedvars.FileIDOf(uniqueID)
	header, ok := e.headers.Header(fileID)
	if !ok {
		return parsergw.Variable{}, false
	}
	parts := strings.SplitN(uniqueID, "|", 3)
	if len(parts) != 3 {
		return parsergw.Variable{}, false
	}
	scopeFullName, name := parts[1], parts[2]
	return findVariable(header.Scopes, scopeFullName, name)
}

func findVariable(scopes []parsergw.Scope, scopeFullName, name string) (parsergw.Variable, bool) {
	for _, s := range scopes {
		if s.FullName == scopeFullName {
			for _, v := range s.Variables {
				if v.Name == name {
					return v, true
				}
			}
		}
		if v, ok := findVariable(s.Children, scopeFullName, name); ok {
			return v, true
		}
	}
	return parsergw.Variable{}, false
}

func isUnknown(bits string) bool {
	return strings.ContainsAny(bits, "xXzZ")
}

type segment struct {
	start timeps.TimePs
	bits  string
}

// densify collapses consecutive transitions whose on-screen edges are
// closer than minEdgeGapPx into a single segment, keeping the later
// value — at high zoom-out this prevents thousands of sub-pixel edges
// from being drawn individually.
func densify(series []parsergw.Transition, vp timeps.Viewport, tpp timeps.TimePerPixel) []segment {
	if len(series) == 0 {
		return nil
	}
	out := make([]segment, 0, len(series))
	out = append(out, segment{start: series[0].TimePs, bits: series[0].ValueBits})
	lastX := vp.PixelOffset(series[0].TimePs, tpp)
	for _, t := range series[1:] {
		x := vp.PixelOffset(t.TimePs, tpp)
		if x-lastX < minEdgeGapPx {
			out[len(out)-1].bits = t.ValueBits
			continue
		}
		out = append(out, segment{start: t.TimePs, bits: t.ValueBits})
		lastX = x
	}
	return out
}

func truncateLabel(label string, widthPx float64) string {
	const avgCharPx = 7.0
	maxChars := int(widthPx / avgCharPx)
	if maxChars <= 0 || len(label) <= maxChars {
		return label
	}
	if maxChars <= 1 {
		return "…"
	}
	return label[:maxChars-1] + "…"
}

func (e *Engine) handleHover(m MouseMoved) {
	e.mu.RLock()
	tl := e.tl
	rows := e.rows
	e.mu.RUnlock()

	rowIdx := int((m.YPx - TimeAxisHeightPx) / RowHeightPx)
	if rowIdx < 0 || rowIdx >= len(rows) {
		e.hover.Set(HoverInfo{})
		return
	}
	v := rows[rowIdx]

	t := tl.Viewport.Start.SaturatingAdd(timeps.DurationPs(m.XPx * float64(tl.TimePerPixel)))
	series, ok := e.data.Transitions(v.UniqueID)
	if !ok || len(series) == 0 {
		e.hover.Set(HoverInfo{Present: true, Variable: v.UniqueID, TimePs: t})
		return
	}

	bits := valueAtOrBefore(series, t)
	e.hover.Set(HoverInfo{
		Present:  true,
		Variable: v.UniqueID,
		TimePs:   t,
		Value:    formatValue(bits, v.Formatter),
	})
}

// valueAtOrBefore binary-searches series for the value in effect at t.
func valueAtOrBefore(series []parsergw.Transition, t timeps.TimePs) string {
	i := sort.Search(len(series), func(i int) bool { return series[i].TimePs > t })
	if i == 0 {
		return ""
	}
	return series[i-1].ValueBits
}

// HoverInfo subscribes to the renderer's pure hover UI state.
func (e *Engine) HoverInfo(ctx context.Context) (<-chan HoverInfo, func()) {
	return e.hover.Signal(ctx)
}

// Frames subscribes to rendered output.
func (e *Engine) Frames() (<-chan Frame, func()) { return e.frames.Subscribe() }
