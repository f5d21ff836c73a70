// SPDX-License-Identifier: MIT

// inspect is a CLI probe over a single waveform fixture document: it
// prints the detected format, timescale hint, and raw min/max time for
// the file the fixture describes, or (via the fingerprint subcommand)
// the signal-cache dedup key for a given request tuple. Grounded on the
// teacher's cmd/v3probe (timed checks reported as JSON) and cmd/validate
// (flag-based single-file CLI).
//
// Usage:
//
//	inspect <fixture.json>
//	inspect fingerprint <kind> <viewport_start_ps> <viewport_end_ps> <key>...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/novywave/novywave-core/internal/fixtureload"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/signalcache"
	"github.com/novywave/novywave-core/internal/timeps"
)

// Report is the JSON shape printed for a successful inspection.
type Report struct {
	Path          string `json:"path"`
	Format        string `json:"format"`
	TimescaleHint string `json:"timescale_hint"`
	MinTimePs     uint64 `json:"min_time_ps"`
	MaxTimePs     uint64 `json:"max_time_ps"`
	ScopeCount    int    `json:"scope_count"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if os.Args[1] == "fingerprint" {
		os.Exit(runFingerprint(os.Args[2:]))
	}

	os.Exit(runInspect(os.Args[1]))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  inspect <fixture.json>")
	fmt.Fprintln(os.Stderr, "  inspect fingerprint <transitions|cursor_values> <viewport_start_ps> <viewport_end_ps> <key>...")
}

func runInspect(fixturePath string) int {
	gateway := parsergw.NewFakeGateway()
	path, err := fixtureload.SeedInto(gateway, fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}

	ctx := context.Background()
	format, err := gateway.DetectFormat(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: detect format: %v\n", err)
		return 1
	}
	header, err := gateway.ReadHeader(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: read header: %v\n", err)
		return 1
	}

	report := Report{
		Path:          path,
		Format:        string(format),
		TimescaleHint: header.TimescaleHint,
		MinTimePs:     uint64(header.MinTimePs),
		MaxTimePs:     uint64(header.MaxTimePs),
		ScopeCount:    len(header.Scopes),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: encode report: %v\n", err)
		return 1
	}
	return 0
}

func runFingerprint(args []string) int {
	if len(args) < 4 {
		usage()
		return 2
	}

	kind := signalcache.RequestKind(args[0])
	if kind != signalcache.KindTransitions && kind != signalcache.KindCursorValues {
		fmt.Fprintf(os.Stderr, "inspect: unknown kind %q\n", args[0])
		return 2
	}

	start, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: invalid viewport_start_ps: %v\n", err)
		return 2
	}
	end, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: invalid viewport_end_ps: %v\n", err)
		return 2
	}
	keys := args[3:]

	viewport := timeps.NewViewport(timeps.TimePs(start), timeps.TimePs(end))
	fp := signalcache.Fingerprint(kind, keys, viewport, viewport.Start)
	fmt.Println(fp)
	return 0
}
