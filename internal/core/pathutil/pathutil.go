// SPDX-License-Identifier: MIT

// Package pathutil canonicalizes filesystem paths into the stable IDs
// used as map keys across the tracked-files and selected-variables
// domains, and sandboxes paths a plugin supplies for a reload request.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Canonicalize resolves path to an absolute, cleaned form suitable for
// use as a TrackedFile ID. Two different strings that name the same file
// (relative vs. absolute, redundant "." segments) canonicalize to the
// same ID so duplicate-add detection works.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("pathutil: canonicalize %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// SmartLabel computes, for each canonical path in paths, the shortest
// path-component suffix that is unique across the whole set. A path with
// no unique suffix (an exact duplicate in paths) is labeled with its full
// path; no lexicographic tie-break is applied, so duplicates share a label.
func SmartLabel(paths []string) map[string]string {
	labels := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return labels
	}

	segments := make(map[string][]string, len(paths))
	maxDepth := 0
	for _, p := range paths {
		parts := strings.Split(filepath.ToSlash(p), "/")
		segments[p] = parts
		if len(parts) > maxDepth {
			maxDepth = len(parts)
		}
	}

	for _, p := range paths {
		parts := segments[p]
		for depth := 1; depth <= len(parts); depth++ {
			suffix := strings.Join(parts[len(parts)-depth:], "/")
			if depth == len(parts) || isUniqueSuffix(suffix, p, paths, segments) {
				labels[p] = suffix
				break
			}
		}
	}
	return labels
}

func isUniqueSuffix(suffix, self string, paths []string, segments map[string][]string) bool {
	for _, other := range paths {
		if other == self {
			continue
		}
		otherSuffix := suffixOfDepth(segments[other], strings.Count(suffix, "/")+1)
		if otherSuffix == suffix {
			return false
		}
	}
	return true
}

func suffixOfDepth(parts []string, depth int) string {
	if depth > len(parts) {
		depth = len(parts)
	}
	return strings.Join(parts[len(parts)-depth:], "/")
}

// SecureJoin joins root with a plugin-supplied relative path component,
// rejecting anything that would escape root. The plugin bridge's reload
// path does not call it; reload paths are forwarded unchanged.
func SecureJoin(root, userPath string) (string, error) {
	cleaned := filepath.Clean(userPath)

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("pathutil: absolute paths not allowed: %q", userPath)
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("pathutil: path traversal not allowed: %q", userPath)
	}

	full := filepath.Join(root, cleaned)

	rootClean := filepath.Clean(root) + string(filepath.Separator)
	fullClean := filepath.Clean(full) + string(filepath.Separator)
	if !strings.HasPrefix(fullClean, rootClean) {
		return "", fmt.Errorf("pathutil: path escapes root directory: %q", userPath)
	}

	return full, nil
}
