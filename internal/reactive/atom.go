// SPDX-License-Identifier: MIT

package reactive

import "context"

// Atom is a thin Actor wrapper for purely local UI state: a single value,
// mutated only through Set, with no upstream relay driving it. It exists
// so leaf state (a hovered row index, a collapsed-panel flag) uses the
// same Signal/unsubscribe shape as domain Actors instead of a bare mutex.
type Atom[T any] struct {
	actor *Actor[T]
	set   func(T)
}

// NewAtom creates an atom holding initial. The atom's own internal context
// controls its processor's lifetime; call Stop to release it.
func NewAtom[T any](ctx context.Context, initial T) *Atom[T] {
	setCh := make(chan T)
	a := &Atom[T]{}
	a.actor = NewActor(ctx, initial, func(ctx context.Context, set func(T)) {
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-setCh:
				set(v)
			}
		}
	})
	a.set = func(v T) {
		select {
		case setCh <- v:
		case <-ctx.Done():
		}
	}
	return a
}

// Set updates the atom's value. It blocks until the atom's processor has
// accepted the write, or the atom's context is done.
func (a *Atom[T]) Set(v T) { a.set(v) }

// Signal subscribes to the atom's value stream; see Actor.Signal.
func (a *Atom[T]) Signal(ctx context.Context) (<-chan T, func()) { return a.actor.Signal(ctx) }

// Stop releases the atom's processor goroutine.
func (a *Atom[T]) Stop() { a.actor.Stop() }
