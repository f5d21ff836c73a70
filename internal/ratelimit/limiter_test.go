// SPDX-License-Identifier: MIT

package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := New("test", Config{Rate: 10, Burst: 20, CleanupInterval: time.Minute})

	allowed := 0
	for i := 0; i < 25; i++ {
		if l.Allow("file-a") {
			allowed++
		}
	}

	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 requests to pass with burst=20, got %d", allowed)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New("test", Config{Rate: 5, Burst: 10, CleanupInterval: time.Minute})

	for i := 0; i < 20; i++ {
		l.Allow("file-a")
	}

	allowedB := 0
	for i := 0; i < 20; i++ {
		if l.Allow("file-b") {
			allowedB++
		}
	}

	if allowedB < 9 || allowedB > 11 {
		t.Errorf("expected ~10 requests for an independent key, got %d", allowedB)
	}
}

func TestLimiterCleanupResetsBuckets(t *testing.T) {
	l := New("test", Config{Rate: 100, Burst: 200, CleanupInterval: 100 * time.Millisecond})

	for i := 0; i < 10; i++ {
		l.Allow(string(rune('a' + i)))
	}

	l.mu.Lock()
	countBefore := len(l.perKey)
	l.mu.Unlock()
	if countBefore != 10 {
		t.Fatalf("expected 10 buckets, got %d", countBefore)
	}

	time.Sleep(150 * time.Millisecond)
	l.Allow("z")

	l.mu.Lock()
	countAfter := len(l.perKey)
	l.mu.Unlock()
	if countAfter != 1 {
		t.Errorf("expected 1 bucket after cleanup, got %d", countAfter)
	}
}

func BenchmarkLimiterAllow(b *testing.B) {
	l := New("bench", DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow("file-a")
	}
}
