// SPDX-License-Identifier: MIT

// Package resilience protects the parser gateway from being hammered by
// a file that keeps failing transitions or cursor-value queries (a
// truncated trace still open for appending, a flaky plugin-backed
// gateway). One CircuitBreaker per file tracks a sliding window of
// attempts and technical failures; once a file trips enough failures it
// opens for a cooldown period, and requestcoord skips issuing new
// gateway calls for it until the breaker allows a half-open probe.
//
// Adapted from ManuGH/xg2g's internal/resilience circuit breaker, which
// guarded transcode process spawns the same way: sliding window,
// closed/open/half-open state machine, no external scheduler.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/metrics"
)

// State is a circuit breaker's position in the closed/open/half-open
// state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by callers that check AllowRequest
// themselves and choose to surface the open state as an error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type eventKind int

const (
	eventAttempt eventKind = iota
	eventSuccess
	eventTechFailure
)

type event struct {
	ts   time.Time
	kind eventKind
}

// clock abstracts time for deterministic tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker is a sliding-window state machine guarding one gateway
// call path. requestcoord keys one breaker per file ID.
type CircuitBreaker struct {
	mu sync.Mutex

	name string

	state    State
	openedAt time.Time

	events []event
	window time.Duration

	threshold        int
	minAttempts      int
	successes        int
	successThreshold int
	resetTimeout     time.Duration

	clock clock
}

// Option configures a CircuitBreaker at construction.
type Option func(*CircuitBreaker)

// WithClock overrides the breaker's time source; used only by tests.
func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// NewCircuitBreaker creates a sliding-window circuit breaker named name.
// It opens once threshold technical failures occur within window, given
// at least minAttempts attempts were made in that window, and stays open
// for resetTimeout before allowing a half-open probe.
func NewCircuitBreaker(name string, threshold, minAttempts int, window, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if minAttempts <= 0 {
		minAttempts = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		threshold:        threshold,
		minAttempts:      minAttempts,
		window:           window,
		resetTimeout:     resetTimeout,
		successThreshold: 2,
		clock:            realClock{},
	}

	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetCircuitBreakerStatus(cb.name, int(cb.state))
	return cb
}

// AllowRequest reports whether a request may proceed, transitioning an
// Open breaker into HalfOpen once resetTimeout has elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.prune()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionInto(StateHalfOpen)
			return true
		}
		return false
	default: // HalfOpen
		return true
	}
}

// RecordAttempt marks that a gateway call was issued.
func (cb *CircuitBreaker) RecordAttempt() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventAttempt})
	cb.prune()
	cb.evaluate()
}

// RecordSuccess marks a successful gateway response.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventSuccess})
	cb.prune()

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionInto(StateClosed)
		}
	}
}

// RecordTechnicalFailure marks a gateway timeout or error response.
func (cb *CircuitBreaker) RecordTechnicalFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.events = append(cb.events, event{ts: cb.clock.Now(), kind: eventTechFailure})
	cb.prune()

	if cb.state == StateHalfOpen {
		cb.transitionInto(StateOpen)
		return
	}

	cb.evaluate()
}

// CurrentState returns the breaker's current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) prune() {
	cutoff := cb.clock.Now().Add(-cb.window)
	for i := range cb.events {
		if !cb.events[i].ts.Before(cutoff) {
			cb.events = cb.events[i:]
			return
		}
	}
	cb.events = nil
}

func (cb *CircuitBreaker) evaluate() {
	if cb.state != StateClosed {
		return
	}

	var attempts, failures int
	for _, e := range cb.events {
		switch e.kind {
		case eventAttempt:
			attempts++
		case eventTechFailure:
			failures++
		}
	}

	if attempts >= cb.minAttempts && failures >= cb.threshold {
		cb.transitionInto(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionInto(s State) {
	if cb.state == s {
		return
	}

	cb.state = s
	switch s {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		metrics.RecordCircuitBreakerTrip(cb.name, "tech_failure_threshold")
	case StateHalfOpen:
		cb.successes = 0
	case StateClosed:
		cb.events = nil
	}

	metrics.SetCircuitBreakerStatus(cb.name, int(s))
}
