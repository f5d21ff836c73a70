// SPDX-License-Identifier: MIT

// Package timeps is the NovyWave time domain: a picosecond-precision,
// saturating integer time representation plus the zoom/viewport types
// built on top of it. All arithmetic inside the engine happens here;
// floating-point seconds are only ever touched at the UI/persistence
// boundary (FromExternalSeconds / Seconds).
package timeps

import (
	"fmt"
	"math"
)

// TimePs is a monotonic, non-negative picosecond timestamp.
type TimePs uint64

// DurationPs is an unsigned picosecond interval.
type DurationPs uint64

const (
	psPerNs  = 1_000
	psPerUs  = 1_000_000
	psPerMs  = 1_000_000_000
	psPerSec = 1_000_000_000_000
)

// FromNanos converts an integer nanosecond count to TimePs, saturating at
// TimePs' maximum on overflow.
func FromNanos(ns uint64) TimePs {
	if ns > math.MaxUint64/psPerNs {
		return TimePs(math.MaxUint64)
	}
	return TimePs(ns * psPerNs)
}

// Nanos converts back to an integer nanosecond count, truncating toward
// zero (the wire format in §6 is nanosecond-granular).
func (t TimePs) Nanos() uint64 {
	return uint64(t) / psPerNs
}

// FromExternalSeconds is the only path from a floating-point seconds value
// (e.g. UI input) into internal picoseconds; the persisted document
// stores integer nanoseconds and goes through FromNanos. Non-finite
// inputs (NaN, +Inf, -Inf) and negative inputs clamp to zero; values
// beyond representable range saturate at TimePs' maximum.
func FromExternalSeconds(seconds float64) TimePs {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0
	}
	scaled := seconds * float64(psPerSec)
	if scaled >= float64(math.MaxUint64) {
		return TimePs(math.MaxUint64)
	}
	return TimePs(scaled)
}

// Seconds renders the time point as floating-point seconds, the inverse
// of FromExternalSeconds (within the stated ±1 ps tolerance).
func (t TimePs) Seconds() float64 {
	return float64(t) / float64(psPerSec)
}

// SaturatingAdd returns t+d, clamped at TimePs' maximum instead of
// wrapping.
func (t TimePs) SaturatingAdd(d DurationPs) TimePs {
	sum := uint64(t) + uint64(d)
	if sum < uint64(t) { // overflow
		return TimePs(math.MaxUint64)
	}
	return TimePs(sum)
}

// SaturatingSub returns t-d, clamped at zero instead of wrapping.
func (t TimePs) SaturatingSub(d DurationPs) TimePs {
	if uint64(d) > uint64(t) {
		return 0
	}
	return TimePs(uint64(t) - uint64(d))
}

// Sub returns the non-negative duration between two time points,
// regardless of argument order (it is always |t-u|).
func (t TimePs) Sub(u TimePs) DurationPs {
	if t >= u {
		return DurationPs(t - u)
	}
	return DurationPs(u - t)
}

func (d DurationPs) SaturatingAdd(other DurationPs) DurationPs {
	sum := uint64(d) + uint64(other)
	if sum < uint64(d) {
		return DurationPs(math.MaxUint64)
	}
	return DurationPs(sum)
}

func (d DurationPs) SaturatingSub(other DurationPs) DurationPs {
	if uint64(other) > uint64(d) {
		return 0
	}
	return DurationPs(uint64(d) - uint64(other))
}

func (t TimePs) String() string      { return Format(DurationPs(t)) }
func (d DurationPs) String() string  { return Format(d) }

// magnitude band boundaries, in picoseconds.
var bands = []struct {
	floor DurationPs
	unit  float64
	label string
}{
	{psPerSec, psPerSec, "s"},
	{psPerMs, psPerMs, "ms"},
	{psPerUs, psPerUs, "µs"},
	{psPerNs, psPerNs, "ns"},
	{0, 1, "ps"},
}

// Format renders a duration picking the unit (ps, ns, µs, ms, s) whose
// band the magnitude falls into, with at most three significant decimals
// and no trailing zeros.
func Format(d DurationPs) string {
	for _, b := range bands {
		if d >= b.floor {
			value := float64(d) / b.unit
			return fmt.Sprintf("%s%s", trimDecimals(value, 3), b.label)
		}
	}
	return "0ps"
}

func trimDecimals(v float64, sig int) string {
	s := fmt.Sprintf("%.*f", sig, v)
	// Trim trailing zeros, then a trailing '.' if it remains bare.
	end := len(s)
	for end > 0 && s[end-1] == '0' {
		end--
	}
	if end > 0 && s[end-1] == '.' {
		end--
	}
	return s[:end]
}
