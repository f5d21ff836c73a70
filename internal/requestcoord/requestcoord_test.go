// SPDX-License-Identifier: MIT

package requestcoord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/resilience"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeps"
)

func seededGateway(t *testing.T) (*parsergw.FakeGateway, parsergw.BodyHandle) {
	t.Helper()
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{
		Header: parsergw.WaveformHeader{Format: parsergw.FormatVCD},
		Transitions: map[string][]parsergw.Transition{
			"f1|top|clk": {{TimePs: 0, ValueBits: "0"}, {TimePs: 100, ValueBits: "1"}},
		},
		CursorVals: map[string]parsergw.SignalValue{
			"f1|top|clk": {Kind: parsergw.ValuePresent, Bits: "1"},
		},
	})
	handle, err := gw.ReadBody(context.Background(), "/waves/top.vcd", nil)
	require.NoError(t, err)
	return gw, handle
}

func TestRequestTransitionsPopulatesCache(t *testing.T) {
	gw, handle := seededGateway(t)
	cache := signalcache.NewCache()
	updates, unsub := cache.Updates()
	defer unsub()
	cache.OnViewportChanged(timeps.NewViewport(0, 1000))

	rc := NewCoordinator(gw, cache)
	rc.RequestTransitions(context.Background(), "f1", handle, []string{"f1|top|clk"}, timeps.NewViewport(0, 1000))

	select {
	case u := <-updates:
		assert.True(t, u.Transitions)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cache update")
	}

	got, ok := cache.Transitions("f1|top|clk")
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestRequestCursorValuesBatchesAfterDebounce(t *testing.T) {
	gw, handle := seededGateway(t)
	cache := signalcache.NewCache()
	updates, unsub := cache.Updates()
	defer unsub()

	rc := NewCoordinator(gw, cache)
	rc.RequestCursorValues(handle, "f1", []string{"f1|top|clk"}, timeps.TimePs(50))

	select {
	case u := <-updates:
		assert.True(t, u.CursorValue)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batched cursor update")
	}

	v, ok := cache.CursorValue("f1|top|clk")
	require.True(t, ok)
	assert.Equal(t, parsergw.ValuePresent, v.Kind)
}

func TestRequestTransitionsWhileInFlightUpdatesPendingSnapshot(t *testing.T) {
	gw, handle := seededGateway(t)
	cache := signalcache.NewCache()
	rc := NewCoordinator(gw, cache)

	rc.mu.Lock()
	rc.transitions["f1"] = &fileTransitionState{inFlight: true, handle: handle}
	rc.mu.Unlock()

	rc.RequestTransitions(context.Background(), "f1", handle, []string{"f1|top|clk"}, timeps.NewViewport(0, 500))

	rc.mu.Lock()
	st := rc.transitions["f1"]
	pending := st.pendingViewport
	rc.mu.Unlock()

	require.NotNil(t, pending)
	assert.Equal(t, timeps.NewViewport(0, 500), *pending)
}

func TestTransitionsTimeoutRetriesOnceThenSucceeds(t *testing.T) {
	gw, handle := seededGateway(t)
	gw.TimeoutNextQueryTransitions = true
	cache := signalcache.NewCache()
	updates, unsub := cache.Updates()
	defer unsub()
	cache.OnViewportChanged(timeps.NewViewport(0, 1000))

	rc := NewCoordinator(gw, cache)
	rc.RequestTransitions(context.Background(), "f1", handle, []string{"f1|top|clk"}, timeps.NewViewport(0, 1000))

	select {
	case u := <-updates:
		assert.True(t, u.Transitions)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cache update after timeout retry")
	}

	assert.Equal(t, resilience.StateClosed, rc.breakerFor("f1").CurrentState(), "a timeout absorbed by retry must not count as a technical failure")
}

func TestRepeatedTransitionFailuresTripCircuitAndNotify(t *testing.T) {
	gw := parsergw.NewFakeGateway()
	gw.Seed("/waves/top.vcd", parsergw.FakeFile{Header: parsergw.WaveformHeader{Format: parsergw.FormatVCD}})
	badHandle, err := gw.ReadBody(context.Background(), "/waves/missing.vcd", nil)
	assert.Error(t, err)

	cache := signalcache.NewCache()
	rc := NewCoordinator(gw, cache)
	trips, unsub := rc.CircuitTrippedRelay.Subscribe()
	defer unsub()

	for i := 0; i < breakerMinAttempts; i++ {
		viewport := timeps.NewViewport(timeps.TimePs(i), timeps.TimePs(i+1000))
		rc.RequestTransitions(context.Background(), "f1", badHandle, []string{"f1|top|clk"}, viewport)
	}

	select {
	case trip := <-trips:
		assert.Equal(t, "f1", trip.FileID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for circuit trip notification")
	}

	assert.Equal(t, resilience.StateOpen, rc.breakerFor("f1").CurrentState())

	rc.ForgetFile("f1")
	assert.Equal(t, resilience.StateClosed, rc.breakerFor("f1").CurrentState(), "ForgetFile drops the breaker, a fresh one starts closed")
}
