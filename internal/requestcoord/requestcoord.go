// SPDX-License-Identifier: MIT

// Package requestcoord batches and throttles calls into the parser
// gateway and maps their responses back into the signal cache. It
// enforces two shaping rules the cache's own fingerprint dedup does not:
// at most one in-flight transitions request per file, and cursor-value
// requests coalesced across every file into a single batch per debounce
// window.
package requestcoord

import (
	"context"
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/metrics"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/ratelimit"
	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/resilience"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeps"
	"github.com/novywave/novywave-core/internal/xlog"
)

// cursorDebounceWindow is how long cursor-value requests accumulate
// before a single batched parser call is issued per file.
const cursorDebounceWindow = 50 * time.Millisecond

// A file whose gateway calls fail breakerFailureThreshold times within
// breakerWindow, out of at least breakerMinAttempts attempts, stops
// issuing new gateway calls for breakerResetTimeout.
const (
	breakerFailureThreshold = 3
	breakerMinAttempts      = 3
	breakerWindow           = 30 * time.Second
	breakerResetTimeout     = 15 * time.Second
)

// transitionsRateLimit bounds how often a single file may issue a
// transitions query, independent of the in-flight ceiling below — it
// catches a pathological run of viewport changes landing faster than
// any one request round-trips.
func transitionsRateLimit() ratelimit.Config {
	return ratelimit.Config{Rate: 20, Burst: 5, CleanupInterval: 5 * time.Minute}
}

type fileTransitionState struct {
	inFlight        bool
	handle          parsergw.BodyHandle
	pendingViewport *timeps.Viewport
	pendingKeys     []string
}

type cursorBatchEntry struct {
	handle parsergw.BodyHandle
	keys   map[string]bool
}

// CircuitTripEvent reports that fileID's gateway calls have failed
// enough to open its circuit breaker; subsequent requests for it are
// skipped until the reset timeout passes.
type CircuitTripEvent struct {
	FileID string
}

// Coordinator batches and throttles requests into gateway, writing
// results into cache.
type Coordinator struct {
	gateway parsergw.Gateway
	cache   *signalcache.Cache

	mu          sync.Mutex
	transitions map[string]*fileTransitionState

	cursorMu      sync.Mutex
	pendingCursor map[string]*cursorBatchEntry
	cursorAt      timeps.TimePs
	cursorTimer   *time.Timer

	limiter *ratelimit.Limiter

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	// CircuitTrippedRelay fires once per file each time its breaker
	// transitions into the open state.
	CircuitTrippedRelay *reactive.Relay[CircuitTripEvent]
}

// NewCoordinator constructs a coordinator over gateway, writing results
// into cache.
func NewCoordinator(gateway parsergw.Gateway, cache *signalcache.Cache) *Coordinator {
	return &Coordinator{
		gateway:             gateway,
		cache:               cache,
		transitions:         make(map[string]*fileTransitionState),
		limiter:             ratelimit.New("requestcoord_transitions", transitionsRateLimit()),
		breakers:            make(map[string]*resilience.CircuitBreaker),
		CircuitTrippedRelay: reactive.NewRelay[CircuitTripEvent]("circuit_tripped_relay"),
	}
}

// ForgetFile drops fileID's transition state and circuit breaker, called
// once a tracked file is removed so neither map grows unbounded across a
// long session.
func (c *Coordinator) ForgetFile(fileID string) {
	c.mu.Lock()
	delete(c.transitions, fileID)
	c.mu.Unlock()

	c.breakersMu.Lock()
	delete(c.breakers, fileID)
	c.breakersMu.Unlock()
}

// breakerFor returns fileID's circuit breaker, creating it on first use.
func (c *Coordinator) breakerFor(fileID string) *resilience.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	cb, ok := c.breakers[fileID]
	if !ok {
		cb = resilience.NewCircuitBreaker(fileID, breakerFailureThreshold, breakerMinAttempts, breakerWindow, breakerResetTimeout)
		c.breakers[fileID] = cb
	}
	return cb
}

// RequestTransitions asks for transitions covering viewport for keys
// belonging to fileID via handle. If a transitions request for fileID is
// already in flight, this call only updates the pending viewport
// snapshot; the parser is re-queried with the latest snapshot once the
// in-flight call returns, if the snapshot has since moved.
func (c *Coordinator) RequestTransitions(ctx context.Context, fileID string, handle parsergw.BodyHandle, keys []string, viewport timeps.Viewport) {
	c.mu.Lock()
	st, ok := c.transitions[fileID]
	if !ok {
		st = &fileTransitionState{}
		c.transitions[fileID] = st
	}
	st.handle = handle
	if st.inFlight {
		vp := viewport
		st.pendingViewport = &vp
		st.pendingKeys = keys
		c.mu.Unlock()
		return
	}
	st.inFlight = true
	c.mu.Unlock()

	c.issueTransitions(ctx, fileID, keys, viewport)
}

func (c *Coordinator) issueTransitions(ctx context.Context, fileID string, keys []string, viewport timeps.Viewport) {
	if !c.limiter.Allow(fileID) {
		time.AfterFunc(50*time.Millisecond, func() {
			c.mu.Lock()
			st := c.transitions[fileID]
			retryKeys, retryViewport := keys, viewport
			if st.pendingViewport != nil {
				retryKeys, retryViewport = st.pendingKeys, *st.pendingViewport
				st.pendingViewport = nil
				st.pendingKeys = nil
			}
			c.mu.Unlock()
			c.issueTransitions(ctx, fileID, retryKeys, retryViewport)
		})
		return
	}

	c.mu.Lock()
	handle := c.transitions[fileID].handle
	c.mu.Unlock()

	_, started := c.cache.BeginRequest(signalcache.KindTransitions, keys, viewport, 0)
	if started {
		defer c.cache.CompleteRequest(signalcache.KindTransitions, keys, viewport, 0)
		c.doTransitions(ctx, fileID, handle, keys, viewport)
	}

	c.mu.Lock()
	st := c.transitions[fileID]
	next := st.pendingViewport
	nextKeys := st.pendingKeys
	st.pendingViewport = nil
	st.pendingKeys = nil
	if next == nil || *next == viewport {
		st.inFlight = false
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.issueTransitions(ctx, fileID, nextKeys, *next)
}

func (c *Coordinator) doTransitions(ctx context.Context, fileID string, handle parsergw.BodyHandle, keys []string, viewport timeps.Viewport) {
	breaker := c.breakerFor(fileID)
	if !breaker.AllowRequest() {
		xlog.WithComponent("requestcoord").Warn().Str("file_id", fileID).Msg("circuit open, skipping query_transitions")
		return
	}

	breaker.RecordAttempt()
	start := time.Now()
	series, err := c.queryTransitionsWithRetry(ctx, handle, keys, viewport)
	metrics.ParserRequestDuration.WithLabelValues("query_transitions").Observe(time.Since(start).Seconds())
	if err != nil {
		breaker.RecordTechnicalFailure()
		c.reportIfTripped(fileID, breaker)
		xlog.WithComponent("requestcoord").Warn().Err(err).Msg("query_transitions failed")
		return
	}
	breaker.RecordSuccess()
	if c.cache.IsStale(viewport) {
		return
	}
	for _, s := range series {
		c.cache.UpsertTransitions(s.Key, s.Transitions)
	}
}

// queryTransitionsWithRetry calls gateway.QueryTransitions under the
// default timeout, retrying once with a doubled deadline if the first
// attempt comes back ErrTimeout (§7: ParseError::Timeout retries once
// with doubled deadline before the caller records a technical failure).
func (c *Coordinator) queryTransitionsWithRetry(ctx context.Context, handle parsergw.BodyHandle, keys []string, viewport timeps.Viewport) ([]parsergw.TransitionSeries, error) {
	reqCtx, cancel := parsergw.WithDefaultTimeout(ctx)
	series, err := c.gateway.QueryTransitions(reqCtx, handle, keys, viewport)
	cancel()
	if !parsergw.IsTimeout(err) {
		return series, err
	}

	xlog.WithComponent("requestcoord").Warn().Msg("query_transitions timed out, retrying with doubled deadline")
	retryCtx, retryCancel := parsergw.WithTimeout(ctx, 2*parsergw.DefaultRequestTimeout)
	defer retryCancel()
	return c.gateway.QueryTransitions(retryCtx, handle, keys, viewport)
}

// reportIfTripped notifies CircuitTrippedRelay the first moment breaker
// is observed open, so a caller driving toasts from it does not need to
// poll.
func (c *Coordinator) reportIfTripped(fileID string, breaker *resilience.CircuitBreaker) {
	if breaker.CurrentState() == resilience.StateOpen {
		c.CircuitTrippedRelay.Send(CircuitTripEvent{FileID: fileID})
	}
}

// RequestCursorValues enqueues keys for fileID into the current
// debounce batch; all files queued within the same 50 ms window are
// flushed together as one parser call per file.
func (c *Coordinator) RequestCursorValues(handle parsergw.BodyHandle, fileID string, keys []string, at timeps.TimePs) {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()

	if c.pendingCursor == nil {
		c.pendingCursor = make(map[string]*cursorBatchEntry)
	}
	entry, ok := c.pendingCursor[fileID]
	if !ok {
		entry = &cursorBatchEntry{handle: handle, keys: make(map[string]bool)}
		c.pendingCursor[fileID] = entry
	}
	for _, k := range keys {
		entry.keys[k] = true
	}
	c.cursorAt = at

	if c.cursorTimer == nil {
		c.cursorTimer = time.AfterFunc(cursorDebounceWindow, c.flushCursorBatch)
	}
}

func (c *Coordinator) flushCursorBatch() {
	c.cursorMu.Lock()
	batch := c.pendingCursor
	at := c.cursorAt
	c.pendingCursor = nil
	c.cursorTimer = nil
	c.cursorMu.Unlock()

	for fileID, entry := range batch {
		go c.queryCursorBatch(fileID, entry, at)
	}
}

func (c *Coordinator) queryCursorBatch(fileID string, entry *cursorBatchEntry, at timeps.TimePs) {
	breaker := c.breakerFor(fileID)
	if !breaker.AllowRequest() {
		xlog.WithComponent("requestcoord").Warn().Str("file_id", fileID).Msg("circuit open, skipping query_cursor_values")
		return
	}

	keys := make([]string, 0, len(entry.keys))
	for k := range entry.keys {
		keys = append(keys, k)
	}

	breaker.RecordAttempt()
	start := time.Now()
	vals, err := c.queryCursorValuesWithRetry(context.Background(), entry.handle, keys, at)
	metrics.ParserRequestDuration.WithLabelValues("query_cursor_values").Observe(time.Since(start).Seconds())
	if err != nil {
		breaker.RecordTechnicalFailure()
		c.reportIfTripped(fileID, breaker)
		xlog.WithComponent("requestcoord").Warn().Err(err).Str("file_id", fileID).Msg("query_cursor_values failed")
		return
	}
	breaker.RecordSuccess()
	c.cache.UpsertCursorValues(vals)
}

// queryCursorValuesWithRetry mirrors queryTransitionsWithRetry's
// timeout-then-doubled-deadline retry for gateway.QueryCursorValues.
func (c *Coordinator) queryCursorValuesWithRetry(ctx context.Context, handle parsergw.BodyHandle, keys []string, at timeps.TimePs) (map[string]parsergw.SignalValue, error) {
	reqCtx, cancel := parsergw.WithDefaultTimeout(ctx)
	vals, err := c.gateway.QueryCursorValues(reqCtx, handle, keys, at)
	cancel()
	if !parsergw.IsTimeout(err) {
		return vals, err
	}

	xlog.WithComponent("requestcoord").Warn().Msg("query_cursor_values timed out, retrying with doubled deadline")
	retryCtx, retryCancel := parsergw.WithTimeout(ctx, 2*parsergw.DefaultRequestTimeout)
	defer retryCancel()
	return c.gateway.QueryCursorValues(retryCtx, handle, keys, at)
}
