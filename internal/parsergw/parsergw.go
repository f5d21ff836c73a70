// SPDX-License-Identifier: MIT

// Package parsergw is the uniform async boundary between the app and the
// external waveform-decoding library. Every operation is context-aware
// and cancelable; on cancellation the implementation must discard any
// partial result rather than return it, since callers never write a
// cache entry for a canceled request.
package parsergw

import (
	"context"
	"errors"
	"time"

	"github.com/novywave/novywave-core/internal/timeps"
)

// FileFormat is the waveform container format detected for a file.
type FileFormat string

const (
	FormatVCD     FileFormat = "vcd"
	FormatFST     FileFormat = "fst"
	FormatGHW     FileFormat = "ghw"
	FormatUnknown FileFormat = "unknown"
)

// SignalEncoding describes how a Variable's bits are interpreted.
type SignalEncoding struct {
	Kind  SignalEncodingKind
	Width uint32 // meaningful when Kind == EncodingBitVector
}

type SignalEncodingKind string

const (
	EncodingBitVector SignalEncodingKind = "bit_vector"
	EncodingReal      SignalEncodingKind = "real"
	EncodingString    SignalEncodingKind = "string"
)

// Variable is a single signal declared within a Scope.
type Variable struct {
	Name       string
	SignalType string
	Encoding   SignalEncoding
}

// UniqueID returns the variable's stable cross-package key, formed from
// the owning file ID and scope path. Callers construct this rather than
// Variable storing it directly, since the same Variable value is reused
// across scopes during header construction.
func (v Variable) UniqueID(fileID, scopeFullName string) string {
	return fileID + "|" + scopeFullName + "|" + v.Name
}

// Scope is one node of a file's scope tree. ID is stable across reloads
// of the same file as long as the hierarchy is unchanged.
type Scope struct {
	ID        string
	Name      string
	FullName  string
	Children  []Scope
	Variables []Variable
}

// WaveformHeader is the fast, I/O-light metadata produced by ReadHeader.
type WaveformHeader struct {
	Format       FileFormat
	Scopes       []Scope
	MinTimePs    timeps.TimePs
	MaxTimePs    timeps.TimePs
	TimescaleHint string
}

// BodyHandle opaquely references a parsed, queryable waveform body
// produced by ReadBody. Implementations may embed a file descriptor, an
// mmap region, or a remote session token; callers never inspect it.
type BodyHandle struct {
	token string
}

// Transition is one value change on a signal, strictly increasing in
// TimePs within a TransitionSeries with no two consecutive entries
// sharing the same ValueBits.
type Transition struct {
	TimePs    timeps.TimePs
	ValueBits string
}

// TransitionSeries is the set of Transitions for one signal key.
type TransitionSeries struct {
	Key         string
	Transitions []Transition
}

// SignalValueKind distinguishes a resolved cursor value from one still
// being fetched or one that does not exist at the queried time.
type SignalValueKind string

const (
	ValuePresent SignalValueKind = "present"
	ValueMissing SignalValueKind = "missing"
	ValueLoading SignalValueKind = "loading"
)

// SignalValue is the cursor-value result for one signal key.
type SignalValue struct {
	Kind SignalValueKind
	Bits string // meaningful when Kind == ValuePresent
}

// ErrorKind taxonomizes the ways a parser operation can fail.
type ErrorKind string

const (
	ErrUnsupportedFormat ErrorKind = "unsupported_format"
	ErrNotFound          ErrorKind = "not_found"
	ErrPermissionDenied  ErrorKind = "permission_denied"
	ErrCorrupt           ErrorKind = "corrupt"
	ErrTimeout           ErrorKind = "timeout"
	ErrIO                ErrorKind = "io"
)

// ParseError is the single error type every Gateway method returns.
type ParseError struct {
	Kind ErrorKind
	Path string
	Err  error // wrapped underlying cause, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Path + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Path
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProgressSink receives fractional progress updates (0.0 to 1.0) during
// ReadBody. Implementations call it from the parsing goroutine; callers
// must not block in it.
type ProgressSink func(fraction float64)

// Gateway is the narrow interface every caller programs against. The
// production implementation wraps the external decoding library;
// FakeGateway is an in-memory double for tests that never touches disk.
type Gateway interface {
	// DetectFormat inspects path (and falls back to its extension only
	// when the library itself reports FormatUnknown) without parsing
	// the body.
	DetectFormat(ctx context.Context, path string) (FileFormat, error)

	// ReadHeader parses just enough of path to return scope/variable
	// metadata and the file's time range. It must not perform the
	// potentially large body read.
	ReadHeader(ctx context.Context, path string) (WaveformHeader, error)

	// ReadBody parses the full transition data for a previously
	// header-read file, reporting fractional progress via sink (which
	// may be nil).
	ReadBody(ctx context.Context, path string, sink ProgressSink) (BodyHandle, error)

	// QueryTransitions returns, for each key, the transitions that
	// intersect viewport.
	QueryTransitions(ctx context.Context, handle BodyHandle, keys []string, viewport timeps.Viewport) ([]TransitionSeries, error)

	// QueryCursorValues returns the signal value of each key at at.
	QueryCursorValues(ctx context.Context, handle BodyHandle, keys []string, at timeps.TimePs) (map[string]SignalValue, error)
}

// requestTimeout bounds a single parser call when the caller's context
// carries no deadline of its own.
const requestTimeout = 30 * time.Second

// DefaultRequestTimeout exposes requestTimeout so a caller retrying a
// timed-out call can derive an explicit doubled budget for the retry.
const DefaultRequestTimeout = requestTimeout

// WithDefaultTimeout returns ctx unchanged if it already has a deadline,
// otherwise a derived context bounded by requestTimeout. Callers that
// want a ParseError{Kind: ErrTimeout} on expiry should wrap ctx.Err()
// themselves; this helper only shapes the context.
func WithDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// WithTimeout returns a context bounded by d regardless of ctx's own
// deadline. Used by retry call sites that need an explicit (typically
// doubled) budget after a first attempt times out.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// IsTimeout reports whether err is a *ParseError with Kind ErrTimeout.
func IsTimeout(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == ErrTimeout
}
