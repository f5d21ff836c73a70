// SPDX-License-Identifier: MIT

// Package reactive is the single-writer, many-reader substrate every
// NovyWave domain package is built from: Relay (typed multi-subscriber
// broadcast), Actor (single-owner mutable state driven by one or more
// relay streams), ActorVec/ActorMap (diff-emitting collections), and Atom
// (a thin Actor wrapper for purely local UI state).
//
// Adapted from two ManuGH/xg2g primitives: internal/pipeline/bus's
// topic-keyed, multi-subscriber, context-cancelable channel fan-out
// becomes Relay.Subscribe; internal/pipeline/fsm's single-writer,
// mutex-guarded state holder becomes the internal shape of Actor.
package reactive

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/novywave/novywave-core/internal/metrics"
	"github.com/novywave/novywave-core/internal/xlog"
)

// Relay is a typed, multi-subscriber broadcast channel with fire-and-forget
// send semantics. A relay has at most one source location: the first
// goroutine to call Send records its call site, and later Sends from a
// different call site are logged as a warning — catching the "two
// producers for one relay" bug class at the point it happens instead of
// downstream.
type Relay[T any] struct {
	name string

	mu      sync.RWMutex
	subs    map[int]chan T
	nextID  int
	sendPC  uintptr
	sendSet atomic.Bool
}

const relaySubBuffer = 64

var dropCount atomic.Uint64

// NewRelay creates a relay. name should follow the "{source}_{event}_relay"
// convention (e.g. "cursor_moved_relay") so logs and panics are legible.
func NewRelay[T any](name string) *Relay[T] {
	return &Relay[T]{name: name, subs: make(map[int]chan T)}
}

// Send broadcasts v to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the sender — a
// slow or absent reader never stalls the relay's single writer.
func (r *Relay[T]) Send(v T) {
	r.checkSingleSource()

	r.mu.RLock()
	chs := make([]chan T, 0, len(r.subs))
	for _, ch := range r.subs {
		chs = append(chs, ch)
	}
	r.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- v:
		default:
			metrics.IncRelayDrop(r.name)
			n := dropCount.Add(1)
			if n%100 == 0 {
				xlog.WithComponent("reactive").Warn().
					Str("relay", r.name).
					Uint64("dropped", n).
					Msg("relay subscriber buffer full, dropping event")
			}
		}
	}
}

// TrySend broadcasts v and reports whether at least one subscriber was
// present to receive it.
func (r *Relay[T]) TrySend(v T) bool {
	r.mu.RLock()
	n := len(r.subs)
	r.mu.RUnlock()
	r.Send(v)
	return n > 0
}

// Subscribe returns an independent buffered stream of future values. The
// caller must drain it (or let it be garbage collected once unreachable);
// closing is via Unsubscribe.
func (r *Relay[T]) Subscribe() (ch <-chan T, unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	c := make(chan T, relaySubBuffer)
	r.subs[id] = c
	r.mu.Unlock()

	return c, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(existing)
		}
	}
}

// Name returns the relay's declared name.
func (r *Relay[T]) Name() string { return r.name }

func (r *Relay[T]) checkSingleSource() {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return
	}
	if r.sendSet.CompareAndSwap(false, true) {
		r.sendPC = pc
		return
	}
	if pc != r.sendPC {
		xlog.WithComponent("reactive").Warn().
			Str("relay", r.name).
			Msg("relay sent from more than one source location")
	}
}
