// SPDX-License-Identifier: MIT

package errsurface

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func TestReportBackgroundErrorLogsOnlyNoToast(t *testing.T) {
	s := NewSurface()

	added, unsub := s.ToastAddedRelay.Subscribe()
	defer unsub()

	s.Report(Error{Kind: KindConnection, TechnicalMessage: "dial tcp: timeout"}, true)

	select {
	case toast := <-added:
		t.Fatalf("expected no toast for background error, got %+v", toast)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, s.Snapshot())
}

func TestReportForegroundErrorQueuesToastWithDefaultMessage(t *testing.T) {
	s := NewSurface()

	added, unsub := s.ToastAddedRelay.Subscribe()
	defer unsub()

	s.Report(Error{Kind: KindFileParse, TechnicalMessage: "unexpected EOF"}, false)

	select {
	case toast := <-added:
		assert.Equal(t, KindFileParse, toast.Kind)
		assert.Equal(t, defaultUserMessage(KindFileParse), toast.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for toast")
	}
}

func TestReportUsesSuppliedUserMessageOverDefault(t *testing.T) {
	s := NewSurface()
	added, unsub := s.ToastAddedRelay.Subscribe()
	defer unsub()

	s.Report(Error{Kind: KindConfigIo, UserMessage: "Could not save session to disk", TechnicalMessage: "permission denied"}, false)

	toast := <-added
	assert.Equal(t, "Could not save session to disk", toast.Message)
}

func TestToastAutoDismissesAfterDuration(t *testing.T) {
	s := NewSurface(WithDuration(20 * time.Millisecond))
	dismissed, unsub := s.ToastDismissedRelay.Subscribe()
	defer unsub()

	s.Report(Error{Kind: KindClipboard, TechnicalMessage: "clipboard unavailable"}, false)

	select {
	case <-dismissed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auto-dismiss")
	}
	assert.Empty(t, s.Snapshot())
}

func TestPauseStopsAutoDismiss(t *testing.T) {
	s := NewSurface(WithDuration(20 * time.Millisecond))
	added, unsub := s.ToastAddedRelay.Subscribe()
	defer unsub()

	s.Report(Error{Kind: KindClipboard, TechnicalMessage: "clipboard unavailable"}, false)
	toast := <-added

	s.Pause(toast.ID)
	time.Sleep(100 * time.Millisecond)

	require.Len(t, s.Snapshot(), 1)
	assert.Equal(t, toast.ID, s.Snapshot()[0].ID)
}

func TestDismissRemovesToastImmediately(t *testing.T) {
	s := NewSurface(WithDuration(time.Minute))
	added, unsub := s.ToastAddedRelay.Subscribe()
	defer unsub()
	dismissed, unsubD := s.ToastDismissedRelay.Subscribe()
	defer unsubD()

	s.Report(Error{Kind: KindPluginHost, TechnicalMessage: "instantiate failed"}, false)
	toast := <-added

	s.Dismiss(toast.ID)

	select {
	case id := <-dismissed:
		assert.Equal(t, toast.ID, id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dismiss")
	}
	assert.Empty(t, s.Snapshot())
}

func TestRemainingFractionDecaysToZero(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	toast := Toast{CreatedAt: clk.now, Duration: 10 * time.Second}

	assert.InDelta(t, 1.0, toast.RemainingFraction(clk.now), 0.001)

	clk.now = clk.now.Add(5 * time.Second)
	assert.InDelta(t, 0.5, toast.RemainingFraction(clk.now), 0.001)

	clk.now = clk.now.Add(10 * time.Second)
	assert.Equal(t, 0.0, toast.RemainingFraction(clk.now))
}
