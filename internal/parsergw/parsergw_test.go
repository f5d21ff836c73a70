// SPDX-License-Identifier: MIT

package parsergw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novywave/novywave-core/internal/timeps"
)

func seededGateway() *FakeGateway {
	g := NewFakeGateway()
	g.Seed("/waves/top.vcd", FakeFile{
		Header: WaveformHeader{
			Format:    FormatVCD,
			MinTimePs: timeps.TimePs(0),
			MaxTimePs: timeps.TimePs(1000),
			Scopes: []Scope{
				{ID: "top.vcd|top", Name: "top", FullName: "top", Variables: []Variable{
					{Name: "clk", Encoding: SignalEncoding{Kind: EncodingBitVector, Width: 1}},
				}},
			},
		},
		Transitions: map[string][]Transition{
			"top.vcd|top|clk": {
				{TimePs: 0, ValueBits: "0"},
				{TimePs: 500, ValueBits: "1"},
			},
		},
		CursorVals: map[string]SignalValue{
			"top.vcd|top|clk": {Kind: ValuePresent, Bits: "1"},
		},
	})
	return g
}

func TestReadHeaderReturnsSeededData(t *testing.T) {
	g := seededGateway()
	h, err := g.ReadHeader(context.Background(), "/waves/top.vcd")
	require.NoError(t, err)
	assert.Equal(t, FormatVCD, h.Format)
	assert.Equal(t, timeps.TimePs(1000), h.MaxTimePs)
}

func TestReadHeaderUnknownPathIsNotFound(t *testing.T) {
	g := seededGateway()
	_, err := g.ReadHeader(context.Background(), "/waves/missing.vcd")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrNotFound, pe.Kind)
}

func TestQueryTransitionsFiltersByViewport(t *testing.T) {
	g := seededGateway()
	handle, err := g.ReadBody(context.Background(), "/waves/top.vcd", nil)
	require.NoError(t, err)

	viewport := timeps.NewViewport(timeps.TimePs(100), timeps.TimePs(0))
	series, err := g.QueryTransitions(context.Background(), handle, []string{"top.vcd|top|clk"}, viewport)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Len(t, series[0].Transitions, 1)
	assert.Equal(t, timeps.TimePs(0), series[0].Transitions[0].TimePs)
}

func TestQueryCursorValuesMissingKeyReturnsMissing(t *testing.T) {
	g := seededGateway()
	handle, err := g.ReadBody(context.Background(), "/waves/top.vcd", nil)
	require.NoError(t, err)

	vals, err := g.QueryCursorValues(context.Background(), handle, []string{"top.vcd|top|unknown"}, timeps.TimePs(10))
	require.NoError(t, err)
	assert.Equal(t, ValueMissing, vals["top.vcd|top|unknown"].Kind)
}

func TestDetectFormatFallsBackToExtension(t *testing.T) {
	g := seededGateway()
	f, err := g.DetectFormat(context.Background(), "/waves/other.fst")
	require.NoError(t, err)
	assert.Equal(t, FormatFST, f)
}

func TestVariableUniqueID(t *testing.T) {
	v := Variable{Name: "clk"}
	assert.Equal(t, "top.vcd|top|clk", v.UniqueID("top.vcd", "top"))
}

func TestWithDefaultTimeoutAddsDeadlineWhenMissing(t *testing.T) {
	ctx, cancel := WithDefaultTimeout(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestWithDefaultTimeoutPreservesExistingDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	ctx, cancel2 := WithDefaultTimeout(parent)
	defer cancel2()
	assert.Equal(t, parent, ctx)
}
