// SPDX-License-Identifier: MIT

package signalcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/timeps"
)

func waitUpdate(t *testing.T, ch <-chan UpdateEvent) UpdateEvent {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return UpdateEvent{}
	}
}

func TestUpsertTransitionsEmitsUpdate(t *testing.T) {
	c := NewCache()
	updates, unsub := c.Updates()
	defer unsub()

	series := []parsergw.Transition{{TimePs: 0, ValueBits: "0"}, {TimePs: 100, ValueBits: "1"}}
	c.UpsertTransitions("f1|top|clk", series)

	u := waitUpdate(t, updates)
	assert.True(t, u.Transitions)

	got, ok := c.Transitions("f1|top|clk")
	require.True(t, ok)
	assert.Equal(t, series, got)
}

func TestUpsertIdenticalTransitionsSuppressesUpdate(t *testing.T) {
	c := NewCache()
	series := []parsergw.Transition{{TimePs: 0, ValueBits: "0"}}
	c.UpsertTransitions("f1|top|clk", series)

	updates, unsub := c.Updates()
	defer unsub()

	c.UpsertTransitions("f1|top|clk", series)
	select {
	case <-updates:
		t.Fatal("expected no update for identical series")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBeginRequestDeduplicatesEquivalentFingerprint(t *testing.T) {
	c := NewCache()
	vp := timeps.NewViewport(0, 1000)

	_, started1 := c.BeginRequest(KindTransitions, []string{"f1|top|clk"}, vp, 0)
	assert.True(t, started1)

	_, started2 := c.BeginRequest(KindTransitions, []string{"f1|top|clk"}, vp, 0)
	assert.False(t, started2)
}

func TestCompleteRequestAllowsReissue(t *testing.T) {
	c := NewCache()
	vp := timeps.NewViewport(0, 1000)

	c.BeginRequest(KindTransitions, []string{"f1|top|clk"}, vp, 0)
	c.CompleteRequest(KindTransitions, []string{"f1|top|clk"}, vp, 0)

	_, started := c.BeginRequest(KindTransitions, []string{"f1|top|clk"}, vp, 0)
	assert.True(t, started)
}

func TestOnCursorMovedInvalidatesCursorOnly(t *testing.T) {
	c := NewCache()
	c.UpsertTransitions("f1|top|clk", []parsergw.Transition{{TimePs: 0, ValueBits: "0"}})
	c.UpsertCursorValues(map[string]parsergw.SignalValue{"f1|top|clk": {Kind: parsergw.ValuePresent, Bits: "0"}})

	assert.True(t, c.ViewportValid())
	assert.True(t, c.CursorValid())

	c.OnCursorMoved(timeps.TimePs(50))
	assert.False(t, c.CursorValid())
	assert.True(t, c.ViewportValid())

	_, ok := c.Transitions("f1|top|clk")
	assert.True(t, ok)
}

func TestOnViewportChangedEvictsDisjointSeries(t *testing.T) {
	c := NewCache()
	c.UpsertTransitions("f1|top|clk", []parsergw.Transition{{TimePs: 10_000, ValueBits: "1"}})

	c.OnViewportChanged(timeps.NewViewport(0, 100))

	_, ok := c.Transitions("f1|top|clk")
	assert.False(t, ok)
}

func TestOnFileRemovedEvictsAllKeysWithPrefix(t *testing.T) {
	c := NewCache()
	c.UpsertTransitions("f1|top|clk", []parsergw.Transition{{TimePs: 0, ValueBits: "0"}})
	c.UpsertTransitions("f2|top|clk", []parsergw.Transition{{TimePs: 0, ValueBits: "0"}})

	c.OnFileRemoved("f1")

	_, ok1 := c.Transitions("f1|top|clk")
	_, ok2 := c.Transitions("f2|top|clk")
	assert.False(t, ok1)
	assert.True(t, ok2)
}

func TestAllTransitionTimesFlattensAcrossKeys(t *testing.T) {
	c := NewCache()
	c.UpsertTransitions("f1|top|a", []parsergw.Transition{{TimePs: 10}, {TimePs: 20}})
	c.UpsertTransitions("f1|top|b", []parsergw.Transition{{TimePs: 30}})

	times := c.AllTransitionTimes(nil)
	assert.Len(t, times, 3)
}

func TestIsStaleDetectsDriftBeyondMargin(t *testing.T) {
	c := NewCache()
	c.OnViewportChanged(timeps.NewViewport(0, 1000))
	assert.False(t, c.IsStale(timeps.NewViewport(0, 1000)))
	assert.True(t, c.IsStale(timeps.NewViewport(5000, 6000)))
}
