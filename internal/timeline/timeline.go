// SPDX-License-Identifier: MIT

// Package timeline is the viewport/cursor/zoom-center state machine:
// the subsystem translating user pan, zoom, and cursor-motion intent
// into a consistent, continuously-animated view of a file's time range.
package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/timeps"
)

const (
	frameInterval = 16 * time.Millisecond

	zoomInFactor       = 0.9
	zoomInFactorShift  = 0.7
	panRatePx          = 20.0
	panRatePxShift     = 60.0
	cursorStepPx       = 10.0
	cursorStepPxShift  = 40.0

	jumpDebounce              = 100 * time.Millisecond
	transitionTolerancePs     = timeps.DurationPs(1)

	defaultRangeSeconds = 100.0
)

// TransitionSource supplies the raw transition times used by
// jump-to-previous/next-transition, across every currently selected
// variable. Implemented by the signal cache.
type TransitionSource interface {
	AllTransitionTimes(keys []string) []timeps.TimePs
}

// State is a snapshot of the engine's observable state.
type State struct {
	Viewport      timeps.Viewport
	Cursor        timeps.TimePs
	ZoomCenter    timeps.TimePs
	TimePerPixel  timeps.TimePerPixel
	CanvasWidthPx int
	CanvasHeightPx int

	PanningLeft       bool
	PanningRight      bool
	ZoomingIn         bool
	ZoomingOut        bool
	CursorMovingLeft  bool
	CursorMovingRight bool

	MouseXPx       float64
	IsShiftPressed bool

	MaximumRange    timeps.Viewport
	HasMaximumRange bool
}

// Engine owns the timeline state described above. Construct with
// NewEngine and drive it through its relays.
type Engine struct {
	transitions TransitionSource

	mu    sync.RWMutex
	state State

	signal *reactive.Relay[State]

	animMu sync.Mutex
	cancelAnim map[string]context.CancelFunc

	jumpDebounceMu sync.Mutex
	lastJumpAt     time.Time

	CursorMovedRelay          *reactive.Relay[timeps.TimePs]
	CursorDraggedRelay        *reactive.Relay[float64]
	ViewportChangedRelay      *reactive.Relay[timeps.Viewport]
	ZoomInStartedRelay        *reactive.Relay[timeps.TimePs]
	ZoomOutStartedRelay       *reactive.Relay[timeps.TimePs]
	ZoomStoppedRelay          *reactive.Relay[struct{}]
	PanLeftStartedRelay       *reactive.Relay[struct{}]
	PanLeftStoppedRelay       *reactive.Relay[struct{}]
	PanRightStartedRelay      *reactive.Relay[struct{}]
	PanRightStoppedRelay      *reactive.Relay[struct{}]
	CursorMovingLeftStartedRelay  *reactive.Relay[struct{}]
	CursorMovingLeftStoppedRelay  *reactive.Relay[struct{}]
	CursorMovingRightStartedRelay *reactive.Relay[struct{}]
	CursorMovingRightStoppedRelay *reactive.Relay[struct{}]
	CanvasResizedRelay        *reactive.Relay[[2]int]
	MouseMovedRelay           *reactive.Relay[[2]float64]
	ShiftPressedChangedRelay  *reactive.Relay[bool]
	ResetViewRelay            *reactive.Relay[struct{}]
	JumpToPreviousTransitionRelay *reactive.Relay[struct{}]
	JumpToNextTransitionRelay     *reactive.Relay[struct{}]
	StateRestoredRelay            *reactive.Relay[RestoredState]
}

// RestoredState is the subset of State a session document can recreate
// verbatim, sent once at startup ahead of any maximum-range derivation.
type RestoredState struct {
	Viewport     timeps.Viewport
	Cursor       timeps.TimePs
	TimePerPixel timeps.TimePerPixel
}

// NewEngine constructs an engine with a default viewport/cursor at zero
// and starts its event-processing goroutine, which runs until ctx is
// canceled.
func NewEngine(ctx context.Context, transitions TransitionSource) *Engine {
	e := &Engine{
		transitions: transitions,
		state: State{
			Viewport:     timeps.NewViewport(0, timeps.TimePs(defaultRangeSeconds*1e12)),
			TimePerPixel: timeps.DefaultTimePerPixel,
		},
		signal:     reactive.NewRelay[State]("timeline_state_relay"),
		cancelAnim: make(map[string]context.CancelFunc),

		CursorMovedRelay:     reactive.NewRelay[timeps.TimePs]("cursor_moved_relay"),
		CursorDraggedRelay:   reactive.NewRelay[float64]("cursor_dragged_relay"),
		ViewportChangedRelay: reactive.NewRelay[timeps.Viewport]("viewport_changed_relay"),
		ZoomInStartedRelay:   reactive.NewRelay[timeps.TimePs]("zoom_in_started_relay"),
		ZoomOutStartedRelay:  reactive.NewRelay[timeps.TimePs]("zoom_out_started_relay"),
		ZoomStoppedRelay:     reactive.NewRelay[struct{}]("zoom_stopped_relay"),
		PanLeftStartedRelay:  reactive.NewRelay[struct{}]("pan_left_started_relay"),
		PanLeftStoppedRelay:  reactive.NewRelay[struct{}]("pan_left_stopped_relay"),
		PanRightStartedRelay: reactive.NewRelay[struct{}]("pan_right_started_relay"),
		PanRightStoppedRelay: reactive.NewRelay[struct{}]("pan_right_stopped_relay"),
		CursorMovingLeftStartedRelay:  reactive.NewRelay[struct{}]("cursor_moving_left_started_relay"),
		CursorMovingLeftStoppedRelay:  reactive.NewRelay[struct{}]("cursor_moving_left_stopped_relay"),
		CursorMovingRightStartedRelay: reactive.NewRelay[struct{}]("cursor_moving_right_started_relay"),
		CursorMovingRightStoppedRelay: reactive.NewRelay[struct{}]("cursor_moving_right_stopped_relay"),
		CanvasResizedRelay:       reactive.NewRelay[[2]int]("canvas_resized_relay"),
		MouseMovedRelay:          reactive.NewRelay[[2]float64]("mouse_moved_relay"),
		ShiftPressedChangedRelay: reactive.NewRelay[bool]("shift_pressed_changed_relay"),
		ResetViewRelay:           reactive.NewRelay[struct{}]("reset_view_relay"),
		JumpToPreviousTransitionRelay: reactive.NewRelay[struct{}]("jump_to_previous_transition_relay"),
		JumpToNextTransitionRelay:     reactive.NewRelay[struct{}]("jump_to_next_transition_relay"),
		StateRestoredRelay:            reactive.NewRelay[RestoredState]("timeline_state_restored_relay"),
	}
	go e.run(ctx)
	return e
}

func (e *Engine) run(ctx context.Context) {
	cursorMoved, u1 := e.CursorMovedRelay.Subscribe()
	defer u1()
	cursorDragged, u2 := e.CursorDraggedRelay.Subscribe()
	defer u2()
	viewportChanged, u3 := e.ViewportChangedRelay.Subscribe()
	defer u3()
	zoomInStarted, u4 := e.ZoomInStartedRelay.Subscribe()
	defer u4()
	zoomOutStarted, u5 := e.ZoomOutStartedRelay.Subscribe()
	defer u5()
	zoomStopped, u6 := e.ZoomStoppedRelay.Subscribe()
	defer u6()
	panLeftStarted, u7 := e.PanLeftStartedRelay.Subscribe()
	defer u7()
	panLeftStopped, u8 := e.PanLeftStoppedRelay.Subscribe()
	defer u8()
	panRightStarted, u9 := e.PanRightStartedRelay.Subscribe()
	defer u9()
	panRightStopped, u10 := e.PanRightStoppedRelay.Subscribe()
	defer u10()
	cmlStarted, u11 := e.CursorMovingLeftStartedRelay.Subscribe()
	defer u11()
	cmlStopped, u12 := e.CursorMovingLeftStoppedRelay.Subscribe()
	defer u12()
	cmrStarted, u13 := e.CursorMovingRightStartedRelay.Subscribe()
	defer u13()
	cmrStopped, u14 := e.CursorMovingRightStoppedRelay.Subscribe()
	defer u14()
	resized, u15 := e.CanvasResizedRelay.Subscribe()
	defer u15()
	mouseMoved, u16 := e.MouseMovedRelay.Subscribe()
	defer u16()
	shiftChanged, u17 := e.ShiftPressedChangedRelay.Subscribe()
	defer u17()
	resetView, u18 := e.ResetViewRelay.Subscribe()
	defer u18()
	jumpPrev, u19 := e.JumpToPreviousTransitionRelay.Subscribe()
	defer u19()
	jumpNext, u20 := e.JumpToNextTransitionRelay.Subscribe()
	defer u20()
	restored, u21 := e.StateRestoredRelay.Subscribe()
	defer u21()

	for {
		select {
		case <-ctx.Done():
			e.stopAllAnimations()
			return
		case t := <-cursorMoved:
			e.setCursor(t)
		case dx := <-cursorDragged:
			e.dragCursor(dx)
		case vp := <-viewportChanged:
			e.setViewport(vp)
		case center := <-zoomInStarted:
			e.startAnimation(ctx, "zoom_in", center, e.zoomTick(true))
		case center := <-zoomOutStarted:
			e.startAnimation(ctx, "zoom_out", center, e.zoomTick(false))
		case <-zoomStopped:
			e.stopAnimation("zoom_in")
			e.stopAnimation("zoom_out")
		case <-panLeftStarted:
			e.startAnimation(ctx, "pan_left", 0, e.panTick(-1))
		case <-panLeftStopped:
			e.stopAnimation("pan_left")
		case <-panRightStarted:
			e.startAnimation(ctx, "pan_right", 0, e.panTick(1))
		case <-panRightStopped:
			e.stopAnimation("pan_right")
		case <-cmlStarted:
			e.startAnimation(ctx, "cursor_left", 0, e.cursorTick(-1))
		case <-cmlStopped:
			e.stopAnimation("cursor_left")
		case <-cmrStarted:
			e.startAnimation(ctx, "cursor_right", 0, e.cursorTick(1))
		case <-cmrStopped:
			e.stopAnimation("cursor_right")
		case dims := <-resized:
			e.resize(dims[0], dims[1])
		case pos := <-mouseMoved:
			e.mu.Lock()
			e.state.MouseXPx = pos[0]
			e.mu.Unlock()
		case held := <-shiftChanged:
			e.mu.Lock()
			e.state.IsShiftPressed = held
			e.mu.Unlock()
		case <-resetView:
			e.ResetView()
		case <-jumpPrev:
			e.jumpToTransition(-1)
		case <-jumpNext:
			e.jumpToTransition(1)
		case rs := <-restored:
			e.restoreState(rs)
		}
	}
}

// restoreState applies a persisted viewport/cursor/zoom triple directly,
// bypassing maximum-range clamping: restore runs before any file has
// reported its range, so there is nothing yet to clamp against.
func (e *Engine) restoreState(rs RestoredState) {
	e.mu.Lock()
	e.state.Viewport = rs.Viewport
	e.state.Cursor = rs.Cursor
	e.state.TimePerPixel = rs.TimePerPixel
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) emit() {
	e.mu.RLock()
	snapshot := e.state
	e.mu.RUnlock()
	e.signal.Send(snapshot)
}

// Signal subscribes to the engine's state stream.
func (e *Engine) Signal() (<-chan State, func()) { return e.signal.Subscribe() }

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setCursor(t timeps.TimePs) {
	e.mu.Lock()
	e.state.Cursor = e.state.Viewport.Clamp(t)
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) dragCursor(deltaPx float64) {
	e.mu.Lock()
	deltaPs := deltaPx * float64(e.state.TimePerPixel)
	next := shiftTime(e.state.Cursor, deltaPs)
	e.state.Cursor = e.state.Viewport.Clamp(next)
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) setViewport(vp timeps.Viewport) {
	e.mu.Lock()
	e.state.Viewport = e.clampViewportLocked(vp)
	e.state.Cursor = e.state.Viewport.Clamp(e.state.Cursor)
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) resize(w, h int) {
	e.mu.Lock()
	e.state.CanvasWidthPx = w
	e.state.CanvasHeightPx = h
	e.mu.Unlock()
	e.emit()
}

// UpdateMaximumRange is called by the wiring layer whenever the union of
// loaded-and-referenced file ranges changes. It is dedup'd: an
// identical range (or identical absence of one) never re-emits state.
func (e *Engine) UpdateMaximumRange(vp timeps.Viewport, ok bool) {
	e.mu.Lock()
	if e.state.HasMaximumRange == ok && (!ok || e.state.MaximumRange == vp) {
		e.mu.Unlock()
		return
	}
	e.state.MaximumRange = vp
	e.state.HasMaximumRange = ok
	e.mu.Unlock()
	e.emit()
}

// ResetView sets viewport to the maximum range (or a default 100s span
// if unknown), rescales time_per_pixel to fit the canvas, and moves the
// cursor to the range start.
func (e *Engine) ResetView() {
	e.mu.Lock()
	var vp timeps.Viewport
	if e.state.HasMaximumRange {
		vp = e.state.MaximumRange
	} else {
		vp = timeps.NewViewport(0, timeps.TimePs(defaultRangeSeconds*1e12))
	}
	e.state.Viewport = vp
	e.state.Cursor = vp.Start
	if e.state.CanvasWidthPx > 0 {
		e.state.TimePerPixel = timeps.NewTimePerPixel(uint64(vp.Duration()) / uint64(e.state.CanvasWidthPx))
	} else {
		e.state.TimePerPixel = timeps.DefaultTimePerPixel
	}
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) clampViewportLocked(vp timeps.Viewport) timeps.Viewport {
	if !e.state.HasMaximumRange {
		return vp
	}
	max := e.state.MaximumRange
	start, end := vp.Start, vp.End
	if start < max.Start {
		start = max.Start
	}
	if end > max.End {
		end = max.End
	}
	if start > end {
		start = end
	}
	return timeps.Viewport{Start: start, End: end}
}

func shiftTime(t timeps.TimePs, deltaPs float64) timeps.TimePs {
	if deltaPs >= 0 {
		return t.SaturatingAdd(timeps.DurationPs(deltaPs))
	}
	return t.SaturatingSub(timeps.DurationPs(-deltaPs))
}

// startAnimation raises a named animation flag and spawns a cooperative
// task ticking every frameInterval until the flag is lowered (via
// stopAnimation), ctx is canceled, or tick itself returns false (a
// clamp has terminated the animation).
func (e *Engine) startAnimation(ctx context.Context, name string, param timeps.TimePs, tick func() bool) {
	e.animMu.Lock()
	if _, running := e.cancelAnim[name]; running {
		e.animMu.Unlock()
		return
	}
	animCtx, cancel := context.WithCancel(ctx)
	e.cancelAnim[name] = cancel
	e.animMu.Unlock()

	e.setFlag(name, true)
	if name == "zoom_in" || name == "zoom_out" {
		e.mu.Lock()
		e.state.ZoomCenter = param
		e.mu.Unlock()
	}

	go func() {
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-animCtx.Done():
				return
			case <-ticker.C:
				if !tick() {
					e.stopAnimation(name)
					return
				}
			}
		}
	}()
}

func (e *Engine) stopAnimation(name string) {
	e.animMu.Lock()
	cancel, ok := e.cancelAnim[name]
	if ok {
		delete(e.cancelAnim, name)
	}
	e.animMu.Unlock()
	if ok {
		cancel()
	}
	e.setFlag(name, false)
}

func (e *Engine) stopAllAnimations() {
	e.animMu.Lock()
	names := make([]string, 0, len(e.cancelAnim))
	for n, cancel := range e.cancelAnim {
		cancel()
		names = append(names, n)
	}
	e.cancelAnim = make(map[string]context.CancelFunc)
	e.animMu.Unlock()
	for _, n := range names {
		e.setFlag(n, false)
	}
}

func (e *Engine) setFlag(name string, v bool) {
	e.mu.Lock()
	switch name {
	case "zoom_in":
		e.state.ZoomingIn = v
	case "zoom_out":
		e.state.ZoomingOut = v
	case "pan_left":
		e.state.PanningLeft = v
	case "pan_right":
		e.state.PanningRight = v
	case "cursor_left":
		e.state.CursorMovingLeft = v
	case "cursor_right":
		e.state.CursorMovingRight = v
	}
	e.mu.Unlock()
	e.emit()
}

// zoomTick returns a frame tick closure for zoom-in (in=true) or
// zoom-out. Each tick rescales time_per_pixel around zoom_center,
// preserving its pixel offset, and returns false once a clamp has
// nothing left to do (stopping the animation without error).
func (e *Engine) zoomTick(in bool) func() bool {
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()

		factor := zoomInFactor
		if e.state.IsShiftPressed {
			factor = zoomInFactorShift
		}
		if !in {
			factor = 1 / factor
		}

		center := e.state.ZoomCenter
		offsetPx := e.state.Viewport.PixelOffset(center, e.state.TimePerPixel)

		newTpp := timeps.NewTimePerPixel(uint64(float64(e.state.TimePerPixel) * factor))
		if newTpp == e.state.TimePerPixel {
			return false
		}

		widthPx := float64(e.state.CanvasWidthPx)
		if widthPx <= 0 {
			widthPx = float64(e.state.Viewport.Duration()) / float64(newTpp)
		}

		newStart := shiftTime(center, -offsetPx*float64(newTpp))
		newDuration := timeps.DurationPs(widthPx * float64(newTpp))
		newEnd := newStart.SaturatingAdd(newDuration)
		newVp := e.clampViewportLocked(timeps.Viewport{Start: newStart, End: newEnd})

		if e.state.HasMaximumRange && newVp.Duration() >= e.state.MaximumRange.Duration() && !in {
			return false
		}

		e.state.TimePerPixel = newTpp
		e.state.Viewport = newVp
		e.state.Cursor = newVp.Clamp(e.state.Cursor)
		return true
	}
}

// panTick returns a frame tick closure; dir is -1 for left, +1 for
// right. Pan is suppressed once the viewport reaches the limit on the
// side being panned toward.
func (e *Engine) panTick(dir int) func() bool {
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()

		rate := panRatePx
		if e.state.IsShiftPressed {
			rate = panRatePxShift
		}
		deltaPs := float64(dir) * rate * float64(e.state.TimePerPixel)

		if e.state.HasMaximumRange {
			if dir < 0 && e.state.Viewport.Start <= e.state.MaximumRange.Start {
				return false
			}
			if dir > 0 && e.state.Viewport.End >= e.state.MaximumRange.End {
				return false
			}
		}

		newStart := shiftTime(e.state.Viewport.Start, deltaPs)
		newEnd := shiftTime(e.state.Viewport.End, deltaPs)
		e.state.Viewport = e.clampViewportLocked(timeps.Viewport{Start: newStart, End: newEnd})
		e.state.Cursor = e.state.Viewport.Clamp(e.state.Cursor)
		return true
	}
}

// cursorTick returns a frame tick closure for keyboard cursor motion;
// dir is -1 for left, +1 for right.
func (e *Engine) cursorTick(dir int) func() bool {
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()

		step := cursorStepPx
		if e.state.IsShiftPressed {
			step = cursorStepPxShift
		}
		deltaPs := float64(dir) * step * float64(e.state.TimePerPixel)
		next := shiftTime(e.state.Cursor, deltaPs)
		e.state.Cursor = e.state.Viewport.Clamp(next)
		return true
	}
}

func (e *Engine) jumpToTransition(dir int) {
	e.jumpDebounceMu.Lock()
	now := time.Now()
	if now.Sub(e.lastJumpAt) < jumpDebounce {
		e.jumpDebounceMu.Unlock()
		return
	}
	e.lastJumpAt = now
	e.jumpDebounceMu.Unlock()

	if e.transitions == nil {
		return
	}

	e.mu.RLock()
	cursor := e.state.Cursor
	e.mu.RUnlock()

	times := e.transitions.AllTransitionTimes(nil)
	if len(times) == 0 {
		return
	}
	dedup := dedupeTolerant(times)

	target, ok := nearestRelative(dedup, cursor, dir)
	if !ok {
		return
	}
	e.setCursor(target)
}

func dedupeTolerant(times []timeps.TimePs) []timeps.TimePs {
	if len(times) == 0 {
		return nil
	}
	sorted := append([]timeps.TimePs(nil), times...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if t.Sub(out[len(out)-1]) > transitionTolerancePs {
			out = append(out, t)
		}
	}
	return out
}

// nearestRelative binary-searches dedup (sorted ascending) for the
// previous (dir<0) or next (dir>0) time relative to cursor, wrapping
// around at either end.
func nearestRelative(dedup []timeps.TimePs, cursor timeps.TimePs, dir int) (timeps.TimePs, bool) {
	if len(dedup) == 0 {
		return 0, false
	}
	lo, hi := 0, len(dedup)
	for lo < hi {
		mid := (lo + hi) / 2
		if dedup[mid] < cursor {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is the index of the first element >= cursor.
	if dir > 0 {
		for i := lo; i < len(dedup); i++ {
			if dedup[i] > cursor {
				return dedup[i], true
			}
		}
		return dedup[0], true
	}
	for i := lo - 1; i >= 0; i-- {
		if dedup[i] < cursor {
			return dedup[i], true
		}
	}
	return dedup[len(dedup)-1], true
}
