// SPDX-License-Identifier: MIT

// Package errsurface is the engine's single error-reporting path: every
// component constructs a typed Error and calls Report, which always
// logs the technical detail and, unless the error came from a
// non-user-initiated background task, pushes a toast that auto-dismisses
// on its own timer. Grounded on the teacher's circuit breaker
// (internal/resilience/circuit_breaker.go): its clock abstraction and
// timer-driven state bookkeeping become a toast's pause/auto-dismiss
// timer here, "trip and recover" retargeted to "show and auto-dismiss."
package errsurface

import (
	"sync"
	"time"

	"github.com/novywave/novywave-core/internal/reactive"
	"github.com/novywave/novywave-core/internal/xlog"
)

// Kind is the error taxonomy from §7.
type Kind string

const (
	KindFileParse       Kind = "file_parse"
	KindDirectoryAccess Kind = "directory_access"
	KindConnection      Kind = "connection"
	KindClipboard       Kind = "clipboard"
	KindPluginHost      Kind = "plugin_host"
	KindConfigIo        Kind = "config_io"
)

// Error is a reported failure: UserMessage is sanitized for display,
// TechnicalMessage carries the raw detail for the log only.
type Error struct {
	Kind             Kind
	UserMessage      string
	TechnicalMessage string
}

func (e Error) Error() string { return e.TechnicalMessage }

// defaultUserMessage covers the case a caller reports an Error with no
// UserMessage set, one fallback per taxonomy entry in §7.
func defaultUserMessage(k Kind) string {
	switch k {
	case KindFileParse:
		return "The waveform file could not be read."
	case KindDirectoryAccess:
		return "That folder could not be accessed."
	case KindConnection:
		return "Connection lost. Retrying..."
	case KindClipboard:
		return "Clipboard action failed."
	case KindPluginHost:
		return "A plugin failed to load."
	case KindConfigIo:
		return "Your session could not be saved."
	default:
		return "Something went wrong."
	}
}

// DefaultToastDuration is how long a toast lingers before auto-dismiss
// absent an explicit override (§7: "default 5 s").
const DefaultToastDuration = 5 * time.Second

// clock abstracts time.Now for deterministic tests, same shape as the
// teacher's circuit breaker clock.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Toast is one queued, user-visible notification.
type Toast struct {
	ID        uint64
	Kind      Kind
	Message   string
	CreatedAt time.Time
	Duration  time.Duration
}

// RemainingFraction is how much of the toast's lifetime is left, for a
// progress bar: 1 at creation, 0 at (or past) auto-dismiss.
func (t Toast) RemainingFraction(now time.Time) float64 {
	if t.Duration <= 0 {
		return 0
	}
	elapsed := now.Sub(t.CreatedAt)
	remaining := 1 - float64(elapsed)/float64(t.Duration)
	if remaining < 0 {
		return 0
	}
	if remaining > 1 {
		return 1
	}
	return remaining
}

type toastState struct {
	toast  Toast
	timer  *time.Timer
	paused bool
}

// Option configures a Surface at construction, same pattern as the
// teacher's circuit breaker Option.
type Option func(*Surface)

// WithClock overrides the time source, for tests.
func WithClock(c clock) Option {
	return func(s *Surface) { s.clock = c }
}

// WithDuration overrides the default toast lifetime.
func WithDuration(d time.Duration) Option {
	return func(s *Surface) { s.duration = d }
}

// Surface owns the toast queue. Construct with NewSurface.
type Surface struct {
	clock    clock
	duration time.Duration

	mu     sync.Mutex
	nextID uint64
	toasts map[uint64]*toastState

	ToastAddedRelay     *reactive.Relay[Toast]
	ToastDismissedRelay *reactive.Relay[uint64]
}

// NewSurface constructs an empty toast queue.
func NewSurface(opts ...Option) *Surface {
	s := &Surface{
		clock:               realClock{},
		duration:            DefaultToastDuration,
		toasts:              make(map[uint64]*toastState),
		ToastAddedRelay:     reactive.NewRelay[Toast]("toast_added_relay"),
		ToastDismissedRelay: reactive.NewRelay[uint64]("toast_dismissed_relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report logs err's technical message unconditionally and, unless
// background is true (a non-user-initiated task failed silently in the
// background), queues a toast using err.UserMessage or, if unset, the
// taxonomy's default.
func (s *Surface) Report(err Error, background bool) {
	logEvent := xlog.WithComponent("errsurface").Error().Str("kind", string(err.Kind)).Str("technical_message", err.TechnicalMessage)
	if background {
		logEvent.Msg("background error, not shown as a toast")
		return
	}
	logEvent.Msg("error reported")

	msg := err.UserMessage
	if msg == "" {
		msg = defaultUserMessage(err.Kind)
	}
	s.push(err.Kind, msg)
}

func (s *Surface) push(kind Kind, message string) uint64 {
	now := s.clock.Now()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	toast := Toast{ID: id, Kind: kind, Message: message, CreatedAt: now, Duration: s.duration}
	st := &toastState{toast: toast}
	st.timer = time.AfterFunc(s.duration, func() { s.Dismiss(id) })
	s.toasts[id] = st
	s.mu.Unlock()

	s.ToastAddedRelay.Send(toast)
	return id
}

// Pause stops a toast's auto-dismiss timer, called when the user clicks
// its body. There is no resume: once paused, only an explicit Dismiss
// (the ✕ click) removes it.
func (s *Surface) Pause(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.toasts[id]
	if !ok || st.paused {
		return
	}
	st.paused = true
	st.timer.Stop()
}

// Dismiss removes a toast immediately, whether called by its own
// auto-dismiss timer or by the user clicking ✕.
func (s *Surface) Dismiss(id uint64) {
	s.mu.Lock()
	st, ok := s.toasts[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.toasts, id)
	s.mu.Unlock()

	st.timer.Stop()
	s.ToastDismissedRelay.Send(id)
}

// Snapshot returns every currently queued toast, oldest first.
func (s *Surface) Snapshot() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Toast, 0, len(s.toasts))
	for id := uint64(0); id < s.nextID; id++ {
		if st, ok := s.toasts[id]; ok {
			out = append(out, st.toast)
		}
	}
	return out
}
