// SPDX-License-Identifier: MIT

package parsergw

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/novywave/novywave-core/internal/timeps"
)

// FakeFile is a pre-built header plus transitions/values used by
// FakeGateway, so domain-package tests never depend on real waveform
// files.
type FakeFile struct {
	Header      WaveformHeader
	Transitions map[string][]Transition
	CursorVals  map[string]SignalValue
}

// FakeGateway is an in-memory Gateway double keyed by path. Register
// files with Seed before use.
type FakeGateway struct {
	mu    sync.RWMutex
	files map[string]FakeFile

	// FailHeader, when set, makes ReadHeader return this error for any
	// path not present in files.
	FailHeader *ParseError

	// TimeoutNext*, when set, makes the next call to the matching
	// method return ErrTimeout instead of its normal result, then
	// clears itself. Used to exercise a caller's timeout-retry path
	// without a real clock.
	TimeoutNextReadHeader        bool
	TimeoutNextReadBody          bool
	TimeoutNextQueryTransitions  bool
	TimeoutNextQueryCursorValues bool
}

// NewFakeGateway creates an empty fake.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{files: make(map[string]FakeFile)}
}

// Seed registers path's header and query data.
func (g *FakeGateway) Seed(path string, f FakeFile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[path] = f
}

func (g *FakeGateway) DetectFormat(ctx context.Context, path string) (FileFormat, error) {
	g.mu.RLock()
	f, ok := g.files[path]
	g.mu.RUnlock()
	if ok {
		return f.Header.Format, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vcd":
		return FormatVCD, nil
	case ".fst":
		return FormatFST, nil
	case ".ghw":
		return FormatGHW, nil
	default:
		return FormatUnknown, nil
	}
}

func (g *FakeGateway) ReadHeader(ctx context.Context, path string) (WaveformHeader, error) {
	if g.takeTimeout(&g.TimeoutNextReadHeader) {
		return WaveformHeader{}, &ParseError{Kind: ErrTimeout, Path: path}
	}

	g.mu.RLock()
	f, ok := g.files[path]
	g.mu.RUnlock()
	if !ok {
		if g.FailHeader != nil {
			return WaveformHeader{}, g.FailHeader
		}
		return WaveformHeader{}, &ParseError{Kind: ErrNotFound, Path: path}
	}
	return f.Header, nil
}

func (g *FakeGateway) ReadBody(ctx context.Context, path string, sink ProgressSink) (BodyHandle, error) {
	if g.takeTimeout(&g.TimeoutNextReadBody) {
		return BodyHandle{}, &ParseError{Kind: ErrTimeout, Path: path}
	}

	g.mu.RLock()
	_, ok := g.files[path]
	g.mu.RUnlock()
	if !ok {
		return BodyHandle{}, &ParseError{Kind: ErrNotFound, Path: path}
	}
	if sink != nil {
		sink(1.0)
	}
	return BodyHandle{token: path}, nil
}

func (g *FakeGateway) QueryTransitions(ctx context.Context, handle BodyHandle, keys []string, viewport timeps.Viewport) ([]TransitionSeries, error) {
	if g.takeTimeout(&g.TimeoutNextQueryTransitions) {
		return nil, &ParseError{Kind: ErrTimeout, Path: handle.token}
	}

	g.mu.RLock()
	f, ok := g.files[handle.token]
	g.mu.RUnlock()
	if !ok {
		return nil, &ParseError{Kind: ErrNotFound, Path: handle.token}
	}

	out := make([]TransitionSeries, 0, len(keys))
	for _, k := range keys {
		all := f.Transitions[k]
		var inView []Transition
		for _, t := range all {
			if viewport.Contains(t.TimePs) {
				inView = append(inView, t)
			}
		}
		sort.Slice(inView, func(i, j int) bool { return inView[i].TimePs < inView[j].TimePs })
		out = append(out, TransitionSeries{Key: k, Transitions: inView})
	}
	return out, nil
}

func (g *FakeGateway) QueryCursorValues(ctx context.Context, handle BodyHandle, keys []string, at timeps.TimePs) (map[string]SignalValue, error) {
	if g.takeTimeout(&g.TimeoutNextQueryCursorValues) {
		return nil, &ParseError{Kind: ErrTimeout, Path: handle.token}
	}

	g.mu.RLock()
	f, ok := g.files[handle.token]
	g.mu.RUnlock()
	if !ok {
		return nil, &ParseError{Kind: ErrNotFound, Path: handle.token}
	}

	out := make(map[string]SignalValue, len(keys))
	for _, k := range keys {
		if v, ok := f.CursorVals[k]; ok {
			out[k] = v
		} else {
			out[k] = SignalValue{Kind: ValueMissing}
		}
	}
	return out, nil
}

// takeTimeout reports flag's value and clears it, so a TimeoutNext* flag
// fires exactly once.
func (g *FakeGateway) takeTimeout(flag *bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !*flag {
		return false
	}
	*flag = false
	return true
}
