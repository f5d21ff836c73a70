// SPDX-License-Identifier: MIT

// Package fsm is a small, generic, strict transition-table state machine.
// Adapted from ManuGH/xg2g's internal/pipeline/fsm (there gated behind a
// "v3" build tag as an experimental runner); here it is load-bearing,
// used directly by internal/trackedfiles for the per-file lifecycle.
package fsm

import (
	"context"
	"fmt"
	"sync"
)

// Transition describes a single edge in the machine. Guard may reject the
// transition before any state change is observable; Action runs after the
// state has already committed and is for side effects only (logging,
// relay emission) — it cannot veto the transition.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E)
}

// Machine is a mutex-guarded, single-writer state holder. Unknown
// transitions are errors — the machine never silently ignores an event it
// doesn't recognize for the current state.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]Transition[S, E]
}

// New builds a Machine. Returns an error if two transitions share the
// same (From, Event) pair, since that would make the table ambiguous.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("fsm: duplicate transition %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies an event, running the matching transition's Guard (which
// may reject it) then committing the new state and running Action.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("fsm: invalid transition: state=%s event=%s", from, event)
	}
	to := t.To
	m.mu.Unlock()

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("fsm: concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	m.mu.Unlock()

	if t.Action != nil {
		t.Action(ctx, from, to, event)
	}
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
