// SPDX-License-Identifier: MIT

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	stateIdle    state = "idle"
	stateRunning state = "running"
	stateDone    state = "done"

	eventStart event = "start"
	eventFin   event = "finish"
)

func TestFireAppliesTransition(t *testing.T) {
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
		{From: stateRunning, Event: eventFin, To: stateDone},
	})
	require.NoError(t, err)

	got, err := m.Fire(context.Background(), eventStart)
	require.NoError(t, err)
	assert.Equal(t, stateRunning, got)
	assert.Equal(t, stateRunning, m.State())
}

func TestFireRejectsUnknownTransition(t *testing.T) {
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), eventFin)
	require.Error(t, err)
	assert.Equal(t, stateIdle, m.State())
}

func TestGuardCanReject(t *testing.T) {
	guardErr := errors.New("nope")
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning, Guard: func(ctx context.Context, from state, e event) error {
			return guardErr
		}},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), eventStart)
	assert.ErrorIs(t, err, guardErr)
	assert.Equal(t, stateIdle, m.State())
}

func TestDuplicateTransitionRejectedAtConstruction(t *testing.T) {
	_, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
		{From: stateIdle, Event: eventStart, To: stateDone},
	})
	require.Error(t, err)
}

func TestActionRunsAfterCommit(t *testing.T) {
	var seenFrom, seenTo state
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning, Action: func(ctx context.Context, from, to state, e event) {
			seenFrom, seenTo = from, to
		}},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), eventStart)
	require.NoError(t, err)
	assert.Equal(t, stateIdle, seenFrom)
	assert.Equal(t, stateRunning, seenTo)
}
