// SPDX-License-Identifier: MIT

// Package app wires every owned actor and engine into one struct and
// drives the glue logic no single package owns: turning a newly tracked
// file's Loading state into ReadHeader/ReadBody calls, keeping a
// file-ID-to-BodyHandle table for the request coordinator, deriving
// maximum_range as the union of every loaded-and-selected file's time
// range, and forwarding timeline/selection changes into transitions and
// cursor-value requests. Grounded on the teacher's cmd/daemon/main.go
// wiring style: explicit constructors in dependency order, no DI
// framework, no package-level globals beyond what xlog/metrics already
// carry.
package app

import (
	"context"
	"sort"
	"sync"

	"github.com/novywave/novywave-core/internal/canvas"
	"github.com/novywave/novywave-core/internal/errsurface"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/pluginbridge"
	"github.com/novywave/novywave-core/internal/requestcoord"
	"github.com/novywave/novywave-core/internal/selectedvars"
	"github.com/novywave/novywave-core/internal/sessionconfig"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeline"
	"github.com/novywave/novywave-core/internal/timeps"
	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/xlog"
)

// App owns every long-lived component of one running engine instance.
type App struct {
	ctx     context.Context
	Gateway parsergw.Gateway

	Files       *trackedfiles.Manager
	Vars        *selectedvars.Manager
	Cache       *signalcache.Cache
	Coordinator *requestcoord.Coordinator
	Timeline    *timeline.Engine
	Canvas      *canvas.Engine
	Config      *sessionconfig.Manager
	Plugins     *pluginbridge.Host
	Errors      *errsurface.Surface

	mu          sync.Mutex
	bodyHandles map[string]parsergw.BodyHandle
	parsing     map[string]bool
}

// New constructs every component in dependency order, restores the
// session document at configPath synchronously, and starts the glue
// goroutine. Every spawned goroutine runs until ctx is canceled.
func New(ctx context.Context, gateway parsergw.Gateway, configPath, version string) *App {
	files := trackedfiles.NewManager(ctx, gateway)
	vars := selectedvars.NewManager(ctx)
	cache := signalcache.NewCache()
	coordinator := requestcoord.NewCoordinator(gateway, cache)
	tl := timeline.NewEngine(ctx, cache)
	canvasEngine := canvas.NewEngine(ctx, tl, vars, cache, files)
	config := sessionconfig.NewManager(ctx, configPath, version, files, vars, tl)
	plugins := pluginbridge.NewHost(files)
	errors := errsurface.NewSurface()

	a := &App{
		ctx:         ctx,
		Gateway:     gateway,
		Files:       files,
		Vars:        vars,
		Cache:       cache,
		Coordinator: coordinator,
		Timeline:    tl,
		Canvas:      canvasEngine,
		Config:      config,
		Plugins:     plugins,
		Errors:      errors,
		bodyHandles: make(map[string]parsergw.BodyHandle),
		parsing:     make(map[string]bool),
	}

	go a.run(ctx)
	return a
}

func (a *App) run(ctx context.Context) {
	fileDiffs, unsub1 := a.Files.Diffs()
	defer unsub1()
	varDiffs, unsub2 := a.Vars.Diffs()
	defer unsub2()
	tlSignal, unsub3 := a.Timeline.Signal()
	defer unsub3()
	writeErrs, unsub4 := a.Config.WriteErrorRelay.Subscribe()
	defer unsub4()
	trips, unsub5 := a.Coordinator.CircuitTrippedRelay.Subscribe()
	defer unsub5()

	for {
		select {
		case <-ctx.Done():
			return
		case diff := <-fileDiffs:
			a.handleFileDiff(ctx, diff)
		case <-varDiffs:
			a.recomputeMaximumRange()
			a.refreshRequests(a.Timeline.Snapshot())
		case state := <-tlSignal:
			a.Cache.OnViewportChanged(state.Viewport)
			a.Cache.OnCursorMoved(state.Cursor)
			a.refreshRequests(state)
		case err := <-writeErrs:
			a.Errors.Report(errsurface.Error{Kind: errsurface.KindConfigIo, TechnicalMessage: err.Error()}, false)
		case trip := <-trips:
			a.Errors.Report(errsurface.Error{
				Kind:             errsurface.KindConnection,
				TechnicalMessage: "circuit breaker open for " + trip.FileID,
			}, false)
		}
	}
}

func (a *App) handleFileDiff(ctx context.Context, diff trackedfiles.VecDiff) {
	switch diff.Kind {
	case trackedfiles.DiffRemove:
		a.forgetHandle(diff.File.ID)
		a.Cache.OnFileRemoved(diff.File.ID)
		a.Coordinator.ForgetFile(diff.File.ID)
		a.Vars.FileRemovedRelay.Send(diff.File.ID)
	case trackedfiles.DiffClear:
		a.forgetAllHandles()
	case trackedfiles.DiffInsert, trackedfiles.DiffUpdate:
		if diff.File.State.Kind == trackedfiles.StateLoading {
			a.beginParse(ctx, diff.File.ID)
		}
	}
	a.recomputeMaximumRange()
}

// beginParse launches the ReadHeader/ReadBody pipeline for id, unless a
// parse for id is already in flight (a progress update re-enters this
// path as another Loading diff, which must not start a second parse).
func (a *App) beginParse(ctx context.Context, id string) {
	a.mu.Lock()
	if a.parsing[id] {
		a.mu.Unlock()
		return
	}
	a.parsing[id] = true
	a.mu.Unlock()

	go a.parseFile(ctx, id)
}

func (a *App) parseFile(ctx context.Context, id string) {
	defer func() {
		a.mu.Lock()
		delete(a.parsing, id)
		a.mu.Unlock()
	}()

	header, err := a.readHeader(ctx, id)
	if err != nil {
		a.failParse(id, err)
		return
	}

	sink := func(fraction float64) {
		a.Files.ParsingProgressRelay.Send(trackedfiles.ProgressEvent{ID: id, Fraction: fraction})
	}
	handle, err := a.readBody(ctx, id, sink)
	if err != nil {
		a.failParse(id, err)
		return
	}

	a.mu.Lock()
	a.bodyHandles[id] = handle
	a.mu.Unlock()

	a.Files.ParsingCompletedRelay.Send(trackedfiles.CompletedEvent{ID: id, Header: header})
}

// readHeader calls Gateway.ReadHeader under the default timeout. A
// ParseError{Kind: ErrTimeout} on the first attempt is retried once with
// a doubled deadline before being surfaced to the caller (§7:
// ParseError::Timeout retries once with doubled deadline, toast on
// second failure).
func (a *App) readHeader(ctx context.Context, id string) (parsergw.WaveformHeader, error) {
	reqCtx, cancel := parsergw.WithDefaultTimeout(ctx)
	header, err := a.Gateway.ReadHeader(reqCtx, id)
	cancel()
	if !parsergw.IsTimeout(err) {
		return header, err
	}

	xlog.WithComponent("app").Warn().Str("file_id", id).Msg("read_header timed out, retrying with doubled deadline")
	retryCtx, retryCancel := parsergw.WithTimeout(ctx, 2*parsergw.DefaultRequestTimeout)
	defer retryCancel()
	return a.Gateway.ReadHeader(retryCtx, id)
}

// readBody mirrors readHeader's timeout-retry behavior for Gateway.ReadBody.
func (a *App) readBody(ctx context.Context, id string, sink parsergw.ProgressSink) (parsergw.BodyHandle, error) {
	reqCtx, cancel := parsergw.WithDefaultTimeout(ctx)
	handle, err := a.Gateway.ReadBody(reqCtx, id, sink)
	cancel()
	if !parsergw.IsTimeout(err) {
		return handle, err
	}

	xlog.WithComponent("app").Warn().Str("file_id", id).Msg("read_body timed out, retrying with doubled deadline")
	retryCtx, retryCancel := parsergw.WithTimeout(ctx, 2*parsergw.DefaultRequestTimeout)
	defer retryCancel()
	return a.Gateway.ReadBody(retryCtx, id, sink)
}

func (a *App) failParse(id string, err error) {
	var parseErr *parsergw.ParseError
	if pe, ok := err.(*parsergw.ParseError); ok {
		parseErr = pe
	} else {
		parseErr = &parsergw.ParseError{Kind: parsergw.ErrIO, Path: id, Err: err}
	}
	xlog.WithComponent("app").Warn().Str("file_id", id).Err(parseErr).Msg("file parse failed")
	a.Files.ParsingFailedRelay.Send(trackedfiles.FailedEvent{ID: id, Err: parseErr})
	a.Errors.Report(errsurface.Error{Kind: errsurface.KindFileParse, TechnicalMessage: parseErr.Error()}, false)
}

func (a *App) forgetHandle(id string) {
	a.mu.Lock()
	delete(a.bodyHandles, id)
	a.mu.Unlock()
}

func (a *App) forgetAllHandles() {
	a.mu.Lock()
	a.bodyHandles = make(map[string]parsergw.BodyHandle)
	a.mu.Unlock()
}

func (a *App) handle(id string) (parsergw.BodyHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.bodyHandles[id]
	return h, ok
}

// recomputeMaximumRange derives maximum_range as the union of time
// ranges of every Loaded file referenced by at least one currently
// selected variable (spec: "signal of tracked_files × selected_variables").
func (a *App) recomputeMaximumRange() {
	referenced := make(map[string]bool)
	for _, v := range a.Vars.Snapshot() {
		referenced[selectedvars.FileIDOf(v.UniqueID)] = true
	}

	var union timeps.Viewport
	has := false
	for _, tf := range a.Files.Snapshot() {
		if tf.State.Kind != trackedfiles.StateLoaded || !referenced[tf.ID] {
			continue
		}
		vp := timeps.NewViewport(tf.State.Header.MinTimePs, tf.State.Header.MaxTimePs)
		if !has {
			union = vp
			has = true
			continue
		}
		union = union.Union(vp)
	}

	a.Timeline.UpdateMaximumRange(union, has)
}

// refreshRequests groups the current selection by owning file and
// issues one transitions and one cursor-values request per file that
// has a resolved BodyHandle.
func (a *App) refreshRequests(state timeline.State) {
	byFile := make(map[string][]string)
	for _, v := range a.Vars.Snapshot() {
		fileID := selectedvars.FileIDOf(v.UniqueID)
		byFile[fileID] = append(byFile[fileID], v.UniqueID)
	}

	fileIDs := make([]string, 0, len(byFile))
	for fileID := range byFile {
		fileIDs = append(fileIDs, fileID)
	}
	sort.Strings(fileIDs)

	for _, fileID := range fileIDs {
		handle, ok := a.handle(fileID)
		if !ok {
			continue
		}
		keys := byFile[fileID]
		a.Coordinator.RequestTransitions(a.ctx, fileID, handle, keys, state.Viewport)
		a.Coordinator.RequestCursorValues(handle, fileID, keys, state.Cursor)
	}
}
