// SPDX-License-Identifier: MIT

package timeps

import "fmt"

// TimePerPixel is a strictly positive picoseconds-per-pixel zoom
// resolution. Zero and negative values are not representable; use
// NewTimePerPixel to construct one with the floor/validation applied.
type TimePerPixel uint64

// MinTimePerPixel is the maximum-zoom-in floor: one picosecond per pixel.
const MinTimePerPixel TimePerPixel = 1

// DefaultTimePerPixel is the medium-zoom default: the timeline engine's
// initial resolution, and the one Engine.ResetView applies when the
// canvas width is still zero.
const DefaultTimePerPixel TimePerPixel = 1_000_000 // 1 µs/px

// NewTimePerPixel clamps psPerPixel to the [MinTimePerPixel, +inf) range.
func NewTimePerPixel(psPerPixel uint64) TimePerPixel {
	if psPerPixel < uint64(MinTimePerPixel) {
		return MinTimePerPixel
	}
	return TimePerPixel(psPerPixel)
}

// Viewport is the visible time window, an ordered pair start <= end.
// start == end is a legal, empty viewport that renders nothing.
type Viewport struct {
	Start TimePs
	End   TimePs
}

// NewViewport builds a Viewport, swapping the arguments if given in the
// wrong order so the start <= end invariant always holds.
func NewViewport(a, b TimePs) Viewport {
	if a <= b {
		return Viewport{Start: a, End: b}
	}
	return Viewport{Start: b, End: a}
}

// Duration returns End - Start.
func (v Viewport) Duration() DurationPs { return v.End.Sub(v.Start) }

// Center returns the midpoint time of the viewport.
func (v Viewport) Center() TimePs {
	return v.Start.SaturatingAdd(DurationPs(v.Duration() / 2))
}

// Empty reports whether the viewport spans zero duration.
func (v Viewport) Empty() bool { return v.Start == v.End }

// Contains reports whether t lies within [Start, End] inclusive.
func (v Viewport) Contains(t TimePs) bool {
	return t >= v.Start && t <= v.End
}

// Clamp returns t clamped into [Start, End].
func (v Viewport) Clamp(t TimePs) TimePs {
	if t < v.Start {
		return v.Start
	}
	if t > v.End {
		return v.End
	}
	return t
}

// Union returns the smallest viewport covering both v and other.
func (v Viewport) Union(other Viewport) Viewport {
	start := v.Start
	if other.Start < start {
		start = other.Start
	}
	end := v.End
	if other.End > end {
		end = other.End
	}
	return Viewport{Start: start, End: end}
}

// PixelOffset returns the pixel offset of t within the viewport at the
// given resolution, i.e. (t - Start) / tpp.
func (v Viewport) PixelOffset(t TimePs, tpp TimePerPixel) float64 {
	if tpp == 0 {
		return 0
	}
	delta := t.Sub(v.Start)
	if t < v.Start {
		return -float64(delta) / float64(tpp)
	}
	return float64(delta) / float64(tpp)
}

func (v Viewport) String() string {
	return fmt.Sprintf("[%s, %s]", v.Start, v.End)
}
