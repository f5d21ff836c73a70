// SPDX-License-Identifier: MIT

// Package signalcache holds raw transitions and cursor values per
// "<file_id>|<scope>|<variable>" key, with independent viewport and
// cursor validity bits and a fingerprint-based guard against issuing a
// duplicate in-flight parser request.
package signalcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novywave/novywave-core/internal/metrics"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/timeps"
)

// readAheadMargin is applied on each side of a new viewport before
// deciding whether a cached transition series is fully disjoint from it
// and therefore evictable.
const readAheadMargin = 0.25

// RequestKind distinguishes the two parser call shapes the cache
// deduplicates.
type RequestKind string

const (
	KindTransitions  RequestKind = "transitions"
	KindCursorValues RequestKind = "cursor_values"
)

// RequestMeta describes one in-flight, deduplicated parser request.
type RequestMeta struct {
	ID               uuid.UUID
	Kind             RequestKind
	Keys             []string
	ViewportSnapshot timeps.Viewport
	CursorSnapshot   timeps.TimePs
	IssuedAt         time.Time
}

// UpdateEvent is emitted whenever cached data for a key materially
// changes (new transitions differing from what was cached, or a
// resolved cursor value).
type UpdateEvent struct {
	Key          string
	Transitions  bool
	CursorValue  bool
}

type transitionEntry struct {
	series []parsergw.Transition
	hash   string
}

// Cache is the signal cache described above. Construct with NewCache.
type Cache struct {
	mu sync.RWMutex

	transitions  map[string]transitionEntry
	cursorValues map[string]parsergw.SignalValue

	activeRequests map[string]RequestMeta

	currentViewport    timeps.Viewport
	currentCursor      timeps.TimePs
	lastInvalidationPs timeps.TimePs
	viewportValid      bool
	cursorValid        bool

	updates *reactive.Relay[UpdateEvent]
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		transitions:    make(map[string]transitionEntry),
		cursorValues:   make(map[string]parsergw.SignalValue),
		activeRequests: make(map[string]RequestMeta),
		updates:        reactive.NewRelay[UpdateEvent]("signal_cache_update_relay"),
	}
}

// Updates subscribes to the cache's change stream.
func (c *Cache) Updates() (<-chan UpdateEvent, func()) { return c.updates.Subscribe() }

// Fingerprint computes the dedup key for a prospective request: its
// kind, sorted key set, and the viewport (for transitions) or cursor
// (for cursor values) it targets.
func Fingerprint(kind RequestKind, keys []string, viewport timeps.Viewport, cursor timeps.TimePs) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(sorted, ","))
	sb.WriteByte('|')
	if kind == KindTransitions {
		fmt.Fprintf(&sb, "%d-%d", viewport.Start, viewport.End)
	} else {
		fmt.Fprintf(&sb, "%d", cursor)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// BeginRequest registers a prospective request under its fingerprint. If
// an equivalent request is already active, it returns the existing
// RequestMeta and started=false — the caller must not issue a duplicate
// parser call.
func (c *Cache) BeginRequest(kind RequestKind, keys []string, viewport timeps.Viewport, cursor timeps.TimePs) (RequestMeta, bool) {
	fp := Fingerprint(kind, keys, viewport, cursor)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.activeRequests[fp]; ok {
		return existing, false
	}
	meta := RequestMeta{
		ID:               uuid.New(),
		Kind:             kind,
		Keys:             keys,
		ViewportSnapshot: viewport,
		CursorSnapshot:   cursor,
		IssuedAt:         time.Now(),
	}
	c.activeRequests[fp] = meta
	metrics.CacheActiveRequests.Set(float64(len(c.activeRequests)))
	return meta, true
}

// CompleteRequest releases the dedup entry for a finished request.
func (c *Cache) CompleteRequest(kind RequestKind, keys []string, viewport timeps.Viewport, cursor timeps.TimePs) {
	fp := Fingerprint(kind, keys, viewport, cursor)
	c.mu.Lock()
	delete(c.activeRequests, fp)
	metrics.CacheActiveRequests.Set(float64(len(c.activeRequests)))
	c.mu.Unlock()
}

// IsStale reports whether a response's viewport snapshot has drifted
// from the cache's current viewport by more than the read-ahead margin,
// i.e. should be discarded on arrival rather than applied.
func (c *Cache) IsStale(snapshot timeps.Viewport) bool {
	c.mu.RLock()
	cur := c.currentViewport
	c.mu.RUnlock()

	margin := timeps.DurationPs(float64(cur.Duration()) * readAheadMargin)
	expanded := timeps.Viewport{
		Start: cur.Start.SaturatingSub(margin),
		End:   cur.End.SaturatingAdd(margin),
	}
	return snapshot.Start < expanded.Start || snapshot.End > expanded.End
}

// OnCursorMoved clears cursor_valid; transitions are untouched.
func (c *Cache) OnCursorMoved(t timeps.TimePs) {
	c.mu.Lock()
	c.currentCursor = t
	c.cursorValid = false
	c.mu.Unlock()
}

// OnViewportChanged clears viewport_valid and evicts any cached
// transition series whose coverage is fully disjoint from the new
// viewport expanded by the read-ahead margin on each side.
func (c *Cache) OnViewportChanged(vp timeps.Viewport) {
	margin := timeps.DurationPs(float64(vp.Duration()) * readAheadMargin)
	expanded := timeps.Viewport{
		Start: vp.Start.SaturatingSub(margin),
		End:   vp.End.SaturatingAdd(margin),
	}

	c.mu.Lock()
	c.currentViewport = vp
	c.viewportValid = false
	for key, entry := range c.transitions {
		if !seriesIntersects(entry.series, expanded) {
			delete(c.transitions, key)
			metrics.CacheEvictionsTotal.WithLabelValues("viewport_disjoint").Inc()
		}
	}
	c.mu.Unlock()
}

func seriesIntersects(series []parsergw.Transition, vp timeps.Viewport) bool {
	if len(series) == 0 {
		return false
	}
	first, last := series[0].TimePs, series[len(series)-1].TimePs
	return !(last < vp.Start || first > vp.End)
}

// OnFileRemoved evicts every cache entry whose key starts with
// "<fileID>|".
func (c *Cache) OnFileRemoved(fileID string) {
	prefix := fileID + "|"
	c.mu.Lock()
	for key := range c.transitions {
		if strings.HasPrefix(key, prefix) {
			delete(c.transitions, key)
			metrics.CacheEvictionsTotal.WithLabelValues("file_removed").Inc()
		}
	}
	for key := range c.cursorValues {
		if strings.HasPrefix(key, prefix) {
			delete(c.cursorValues, key)
		}
	}
	c.mu.Unlock()
}

// UpsertTransitions stores series for key. If series hashes identically
// to what is already cached, no UpdateEvent is emitted.
func (c *Cache) UpsertTransitions(key string, series []parsergw.Transition) {
	hash := hashSeries(series)

	c.mu.Lock()
	existing, ok := c.transitions[key]
	if ok && existing.hash == hash {
		c.viewportValid = true
		c.mu.Unlock()
		metrics.CacheRequestsTotal.WithLabelValues("transitions", "unchanged").Inc()
		return
	}
	c.transitions[key] = transitionEntry{series: series, hash: hash}
	c.viewportValid = true
	c.mu.Unlock()

	metrics.CacheRequestsTotal.WithLabelValues("transitions", "updated").Inc()
	c.updates.Send(UpdateEvent{Key: key, Transitions: true})
}

func hashSeries(series []parsergw.Transition) string {
	var sb strings.Builder
	for _, t := range series {
		fmt.Fprintf(&sb, "%d:%s;", t.TimePs, t.ValueBits)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// UpsertCursorValues stores one resolved cursor value per key.
func (c *Cache) UpsertCursorValues(values map[string]parsergw.SignalValue) {
	c.mu.Lock()
	for key, v := range values {
		c.cursorValues[key] = v
	}
	c.cursorValid = true
	c.mu.Unlock()

	for key := range values {
		metrics.CacheRequestsTotal.WithLabelValues("cursor_values", "updated").Inc()
		c.updates.Send(UpdateEvent{Key: key, CursorValue: true})
	}
}

// Transitions returns the cached series for key, if present.
func (c *Cache) Transitions(key string) ([]parsergw.Transition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.transitions[key]
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues("transitions", "miss").Inc()
		return nil, false
	}
	metrics.CacheRequestsTotal.WithLabelValues("transitions", "hit").Inc()
	return e.series, true
}

// CursorValue returns the cached value for key, if present.
func (c *Cache) CursorValue(key string) (parsergw.SignalValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cursorValues[key]
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues("cursor_values", "miss").Inc()
		return parsergw.SignalValue{}, false
	}
	metrics.CacheRequestsTotal.WithLabelValues("cursor_values", "hit").Inc()
	return v, true
}

// ViewportValid reports whether the current viewport's transition
// coverage is considered up to date.
func (c *Cache) ViewportValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewportValid
}

// CursorValid reports whether the current cursor's point values are
// considered up to date.
func (c *Cache) CursorValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursorValid
}

// AllTransitionTimes flattens every transition time across keys (or, if
// keys is empty, across every cached key) without deduplication — the
// caller (internal/timeline) is responsible for tolerance-based dedup.
// It satisfies timeline.TransitionSource.
func (c *Cache) AllTransitionTimes(keys []string) []timeps.TimePs {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []timeps.TimePs
	if len(keys) == 0 {
		for _, e := range c.transitions {
			for _, t := range e.series {
				out = append(out, t.TimePs)
			}
		}
		return out
	}
	for _, k := range keys {
		if e, ok := c.transitions[k]; ok {
			for _, t := range e.series {
				out = append(out, t.TimePs)
			}
		}
	}
	return out
}
