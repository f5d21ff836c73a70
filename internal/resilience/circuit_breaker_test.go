// SPDX-License-Identifier: MIT

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCircuitBreakerOpensAfterThresholdFailures(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("file_a", 2, 2, time.Minute, 100*time.Millisecond, WithClock(clk))

	assert.Equal(t, StateClosed, cb.CurrentState())

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	assert.Equal(t, StateClosed, cb.CurrentState(), "one failure under threshold stays closed")

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	assert.Equal(t, StateOpen, cb.CurrentState(), "second failure trips the breaker open")

	assert.False(t, cb.AllowRequest(), "open breaker refuses requests before reset timeout")
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("file_b", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk))

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	assert.Equal(t, StateOpen, cb.CurrentState())

	clk.Advance(150 * time.Millisecond)
	assert.True(t, cb.AllowRequest(), "past reset timeout probes half-open")
	assert.Equal(t, StateHalfOpen, cb.CurrentState())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.CurrentState(), "successThreshold successes close the breaker")
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("file_c", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk))

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	clk.Advance(150 * time.Millisecond)
	assert.True(t, cb.AllowRequest())

	cb.RecordTechnicalFailure()
	assert.Equal(t, StateOpen, cb.CurrentState(), "a half-open failure trips straight back to open")
}

func TestCircuitBreakerWindowPrunesOldEvents(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("file_d", 2, 2, 100*time.Millisecond, time.Minute, WithClock(clk))

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	clk.Advance(200 * time.Millisecond)

	cb.RecordAttempt()
	cb.RecordTechnicalFailure()
	assert.Equal(t, StateClosed, cb.CurrentState(), "the first failure fell outside the window")
}
