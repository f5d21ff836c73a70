// SPDX-License-Identifier: MIT

// Package pluginbridge is the host side of the sandboxed-plugin
// interface (§4.11): a narrow set of calls plugins make into the
// engine (inspect opened files, request a reload, watch paths for
// changes) plus a per-plugin debounced filesystem watcher that turns
// raw fsnotify events into one coalesced callback per settle window.
//
// The WebAssembly component sandbox itself is out of scope; Guest
// stands in for whatever actually loads and calls a plugin module.
// Grounded on the teacher's internal/infra/bus/adapter.go (a thin
// adapter translating a raw event source into a narrow domain port)
// for the Host/Guest split, and internal/proxy/watcher.go for the
// concrete fsnotify event-loop idiom (Events/Errors select, debounced
// settle check).
package pluginbridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/novywave/novywave-core/internal/trackedfiles"
	"github.com/novywave/novywave-core/internal/xlog"
)

// minDebounce is the floor on a plugin-supplied debounce window (§6:
// "floored at 50 ms").
const minDebounce = 50 * time.Millisecond

// Guest is the plugin-side interface a Host drives. A real
// implementation crosses into a WASM component instance; tests use a
// recording double.
type Guest interface {
	Init()
	RefreshOpenedFiles()
	WatchedFilesChanged(paths []string)
	Shutdown()
}

// Host is the engine-side surface exposed to every registered plugin.
// Construct with NewHost; register plugins with RegisterPlugin and
// always UnregisterPlugin on teardown to stop its watcher goroutine.
type Host struct {
	files *trackedfiles.Manager

	mu      sync.Mutex
	plugins map[string]*pluginWatch
}

type pluginWatch struct {
	guest    Guest
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer

	cancel context.CancelFunc
}

// NewHost constructs a host with no registered plugins.
func NewHost(files *trackedfiles.Manager) *Host {
	return &Host{files: files, plugins: make(map[string]*pluginWatch)}
}

// RegisterPlugin adds pluginID with no watched files yet and calls
// guest.Init(). Registering an ID that already exists replaces the
// prior registration after tearing it down.
func (h *Host) RegisterPlugin(pluginID string, guest Guest) error {
	h.mu.Lock()
	if existing, ok := h.plugins[pluginID]; ok {
		h.mu.Unlock()
		existing.close()
		h.mu.Lock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.mu.Unlock()
		return err
	}
	pw := &pluginWatch{guest: guest, watcher: watcher, pending: make(map[string]bool)}
	h.plugins[pluginID] = pw
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	pw.cancel = cancel
	go pw.run(ctx, pluginID)

	guest.Init()
	return nil
}

// UnregisterPlugin stops pluginID's watcher and calls guest.Shutdown().
func (h *Host) UnregisterPlugin(pluginID string) {
	h.mu.Lock()
	pw, ok := h.plugins[pluginID]
	if ok {
		delete(h.plugins, pluginID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	pw.close()
	pw.guest.Shutdown()
}

func (pw *pluginWatch) close() {
	pw.cancel()
	_ = pw.watcher.Close()
	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.mu.Unlock()
}

func (pw *pluginWatch) run(ctx context.Context, pluginID string) {
	log := xlog.WithComponent("pluginbridge")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.markDirty(event.Name)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Str("plugin_id", pluginID).Err(err).Msg("plugin file watcher error")
		}
	}
}

// markDirty adds path to the pending set and (re)schedules the settle
// timer, so a burst of events within the debounce window collapses
// into one WatchedFilesChanged callback.
func (pw *pluginWatch) markDirty(path string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.pending[path] = true
	if pw.timer != nil {
		pw.timer.Reset(pw.debounce)
		return
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.flush)
}

func (pw *pluginWatch) flush() {
	pw.mu.Lock()
	paths := make([]string, 0, len(pw.pending))
	for p := range pw.pending {
		paths = append(paths, p)
	}
	pw.pending = make(map[string]bool)
	pw.timer = nil
	pw.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	pw.guest.WatchedFilesChanged(paths)
}

// GetOpenedFiles returns the canonical paths of every currently tracked
// file, read-only.
func (h *Host) GetOpenedFiles() []string {
	snapshot := h.files.Snapshot()
	out := make([]string, 0, len(snapshot))
	for _, tf := range snapshot {
		out = append(out, tf.ID)
	}
	return out
}

// RegisterWatchedFiles replaces pluginID's watch set with paths,
// debounced at max(debounceMs, minDebounce).
func (h *Host) RegisterWatchedFiles(pluginID string, paths []string, debounceMs uint32) error {
	h.mu.Lock()
	pw, ok := h.plugins[pluginID]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	debounce := time.Duration(debounceMs) * time.Millisecond
	if debounce < minDebounce {
		debounce = minDebounce
	}

	pw.mu.Lock()
	pw.debounce = debounce
	pw.pending = make(map[string]bool)
	pw.mu.Unlock()

	for _, existing := range pw.watcher.WatchList() {
		_ = pw.watcher.Remove(existing)
	}
	for _, p := range paths {
		if err := pw.watcher.Add(p); err != nil {
			xlog.WithComponent("pluginbridge").Warn().Str("plugin_id", pluginID).Str("path", p).Err(err).Msg("failed to watch path")
		}
	}
	return nil
}

// ClearWatchedFiles removes every watch for pluginID.
func (h *Host) ClearWatchedFiles(pluginID string) {
	h.mu.Lock()
	pw, ok := h.plugins[pluginID]
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, existing := range pw.watcher.WatchList() {
		_ = pw.watcher.Remove(existing)
	}
	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
		pw.timer = nil
	}
	pw.pending = make(map[string]bool)
	pw.mu.Unlock()
}

// ReloadWaveformFiles injects paths into Tracked Files'
// PluginReloadRequestedRelay, triggering a reparse of each.
func (h *Host) ReloadWaveformFiles(paths []string) {
	h.files.PluginReloadRequestedRelay.Send(paths)
}

// LogInfo and LogError route a plugin's log calls through the engine's
// structured logger, tagged with the plugin's ID.
func (h *Host) LogInfo(pluginID, msg string) {
	xlog.WithComponent("pluginbridge").Info().Str("plugin_id", pluginID).Msg(msg)
}

func (h *Host) LogError(pluginID, msg string) {
	xlog.WithComponent("pluginbridge").Error().Str("plugin_id", pluginID).Msg(msg)
}
