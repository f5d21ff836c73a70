// SPDX-License-Identifier: MIT

// Package ratelimit provides a per-key token-bucket limiter, used by
// internal/requestcoord as a backstop against a burst of viewport or
// cursor changes translating into an equally large burst of parser
// gateway calls for the same file.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var limitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "novywave",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total requests rejected by a per-key rate limiter",
	},
	[]string{"limiter"},
)

// Config holds the rate and burst applied to every key's bucket.
type Config struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

// DefaultConfig limits each key to 20 requests/second with a burst of 10,
// clearing stale buckets every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Rate:            20,
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages one token bucket per key.
type Limiter struct {
	name   string
	config Config

	mu          sync.Mutex
	perKey      map[string]*rate.Limiter
	lastCleanup time.Time
}

// New creates a limiter identified by name (used as the metric label).
func New(name string, config Config) *Limiter {
	return &Limiter{
		name:        name,
		config:      config,
		perKey:      make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request for key may proceed under its bucket,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	limiter := l.bucketFor(key)
	if !limiter.Allow() {
		limitExceeded.WithLabelValues(l.name).Inc()
		return false
	}
	return true
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeCleanupLocked()
	limiter, ok := l.perKey[key]
	if !ok {
		limiter = rate.NewLimiter(l.config.Rate, l.config.Burst)
		l.perKey[key] = limiter
	}
	return limiter
}

// maybeCleanupLocked drops every bucket once CleanupInterval has passed,
// bounding memory for a long-running session with many closed files.
func (l *Limiter) maybeCleanupLocked() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.perKey = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}
