// SPDX-License-Identifier: MIT

// Package fixtureload reads a JSON description of one waveform file's
// header, transitions, and cursor values, and seeds a FakeGateway with
// it. The real VCD/FST/GHW decoding library is an explicit black-box
// boundary (see DESIGN.md's Gateway decision): the CLI probes in
// cmd/inspect and cmd/validate operate against these fixture documents
// rather than against real trace files, the same way parsergw's own
// tests never touch disk.
package fixtureload

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/timeps"
)

// Scope mirrors parsergw.Scope for JSON decoding.
type Scope struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	FullName  string     `json:"full_name"`
	Children  []Scope    `json:"children,omitempty"`
	Variables []Variable `json:"variables,omitempty"`
}

// Variable mirrors parsergw.Variable for JSON decoding.
type Variable struct {
	Name       string `json:"name"`
	SignalType string `json:"signal_type"`
	Encoding   struct {
		Kind  string `json:"kind"`
		Width uint32 `json:"width"`
	} `json:"encoding"`
}

// Transition mirrors parsergw.Transition for JSON decoding.
type Transition struct {
	TimePs    uint64 `json:"time_ps"`
	ValueBits string `json:"value_bits"`
}

// SignalValue mirrors parsergw.SignalValue for JSON decoding.
type SignalValue struct {
	Kind string `json:"kind"`
	Bits string `json:"bits,omitempty"`
}

// Fixture is the on-disk JSON shape for one waveform file.
type Fixture struct {
	Path          string                   `json:"path"`
	Format        string                   `json:"format"`
	MinTimePs     uint64                   `json:"min_time_ps"`
	MaxTimePs     uint64                   `json:"max_time_ps"`
	TimescaleHint string                   `json:"timescale_hint"`
	Scopes        []Scope                  `json:"scopes,omitempty"`
	Transitions   map[string][]Transition  `json:"transitions,omitempty"`
	CursorValues  map[string]SignalValue   `json:"cursor_values,omitempty"`
}

// Load reads and decodes a fixture document from path.
func Load(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixtureload: read %s: %w", path, err)
	}
	var fx Fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return Fixture{}, fmt.Errorf("fixtureload: decode %s: %w", path, err)
	}
	return fx, nil
}

// ToFakeFile converts a decoded Fixture into the parsergw.FakeFile shape
// FakeGateway.Seed expects.
func (fx Fixture) ToFakeFile() parsergw.FakeFile {
	header := parsergw.WaveformHeader{
		Format:        parsergw.FileFormat(fx.Format),
		Scopes:        convertScopes(fx.Scopes),
		MinTimePs:     timeps.TimePs(fx.MinTimePs),
		MaxTimePs:     timeps.TimePs(fx.MaxTimePs),
		TimescaleHint: fx.TimescaleHint,
	}

	transitions := make(map[string][]parsergw.Transition, len(fx.Transitions))
	for key, series := range fx.Transitions {
		out := make([]parsergw.Transition, 0, len(series))
		for _, t := range series {
			out = append(out, parsergw.Transition{TimePs: timeps.TimePs(t.TimePs), ValueBits: t.ValueBits})
		}
		transitions[key] = out
	}

	cursorValues := make(map[string]parsergw.SignalValue, len(fx.CursorValues))
	for key, v := range fx.CursorValues {
		cursorValues[key] = parsergw.SignalValue{Kind: parsergw.SignalValueKind(v.Kind), Bits: v.Bits}
	}

	return parsergw.FakeFile{Header: header, Transitions: transitions, CursorVals: cursorValues}
}

func convertScopes(scopes []Scope) []parsergw.Scope {
	out := make([]parsergw.Scope, 0, len(scopes))
	for _, s := range scopes {
		vars := make([]parsergw.Variable, 0, len(s.Variables))
		for _, v := range s.Variables {
			vars = append(vars, parsergw.Variable{
				Name:       v.Name,
				SignalType: v.SignalType,
				Encoding: parsergw.SignalEncoding{
					Kind:  parsergw.SignalEncodingKind(v.Encoding.Kind),
					Width: v.Encoding.Width,
				},
			})
		}
		out = append(out, parsergw.Scope{
			ID:        s.ID,
			Name:      s.Name,
			FullName:  s.FullName,
			Children:  convertScopes(s.Children),
			Variables: vars,
		})
	}
	return out
}

// SeedInto loads path and registers it with gateway under its declared
// Path field, returning the declared path for the caller to act on.
func SeedInto(gateway *parsergw.FakeGateway, path string) (string, error) {
	fx, err := Load(path)
	if err != nil {
		return "", err
	}
	if fx.Path == "" {
		return "", fmt.Errorf("fixtureload: %s has no \"path\" field", path)
	}
	gateway.Seed(fx.Path, fx.ToFakeFile())
	return fx.Path, nil
}
