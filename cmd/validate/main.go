// SPDX-License-Identifier: MIT

// validate is a CLI tool that smoke-tests every fixture document under
// an examples root: for each *.json file it seeds a FakeGateway,
// exercises DetectFormat, ReadHeader, ReadBody, and (if the fixture
// declares at least one key) QueryTransitions/QueryCursorValues, and
// reports the first failure.
//
// Usage:
//
//	validate <examples root>
//
// Exit codes:
//   - 0: every fixture under the root is valid
//   - 1: at least one fixture failed
//   - 2: usage error
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/novywave/novywave-core/internal/fixtureload"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/timeps"
)

var version = "dev"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	root := flag.Arg(0)
	if root == "" {
		fmt.Fprintln(os.Stderr, "Usage: validate <examples root>")
		os.Exit(2)
	}

	fixtures, err := discoverFixtures(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(2)
	}
	if len(fixtures) == 0 {
		fmt.Fprintf(os.Stderr, "validate: no *.json fixtures found under %s\n", root)
		os.Exit(2)
	}

	failures := 0
	for _, path := range fixtures {
		if err := validateOne(path); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", path, err)
			failures++
			continue
		}
		fmt.Printf("✓ %s\n", path)
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d fixtures failed\n", failures, len(fixtures))
		os.Exit(1)
	}
	fmt.Printf("all %d fixtures valid\n", len(fixtures))
}

func discoverFixtures(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func validateOne(fixturePath string) error {
	gateway := parsergw.NewFakeGateway()
	path, err := fixtureload.SeedInto(gateway, fixturePath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if _, err := gateway.DetectFormat(ctx, path); err != nil {
		return fmt.Errorf("detect format: %w", err)
	}
	header, err := gateway.ReadHeader(ctx, path)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	handle, err := gateway.ReadBody(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	keys := firstKeys(path, header)
	if len(keys) == 0 {
		return nil
	}

	viewport := timeps.NewViewport(header.MinTimePs, header.MaxTimePs)
	if _, err := gateway.QueryTransitions(ctx, handle, keys, viewport); err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}
	if _, err := gateway.QueryCursorValues(ctx, handle, keys, header.MinTimePs); err != nil {
		return fmt.Errorf("query cursor values: %w", err)
	}
	return nil
}

// firstKeys derives the unique_id of every variable declared in header's
// scope tree, used to exercise the query methods during validation.
func firstKeys(fileID string, header parsergw.WaveformHeader) []string {
	var keys []string
	var walk func(scopes []parsergw.Scope)
	walk = func(scopes []parsergw.Scope) {
		for _, s := range scopes {
			for _, v := range s.Variables {
				keys = append(keys, v.UniqueID(fileID, s.FullName))
			}
			walk(s.Children)
		}
	}
	walk(header.Scopes)
	return keys
}
