// SPDX-License-Identifier: MIT

// Package xlog provides the process-wide structured logger used by every
// NovyWave component. Adapted from ManuGH/xg2g's internal/log package:
// the same Configure-once/FromContext idiom, trimmed of the IPTV-specific
// audit trail and HTTP request log buffer, since the engine has neither
// an audit requirement nor an HTTP request surface outside the debug
// metrics server.
package xlog

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidLogLevel names an unparsable level string. Configure does not
// return it: an unparsable Level falls back to "info".
var ErrInvalidLogLevel = errors.New("xlog: invalid log level")

// Config captures options for configuring the global logger.
type Config struct {
	Level   string // "debug", "info", "warn", "error"; defaults to "info"
	Output  io.Writer
	Service string
	Version string
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global zerolog logger. Safe to call more than
// once (e.g. once with safe defaults at process start, again once a
// configured level is known).
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "novywave-core"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()

	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()
	Configure(Config{})
}

func logger() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the configured base logger by value.
func Base() zerolog.Logger { return logger() }

// L returns a pointer to a copy of the global logger, for call sites that
// want the *zerolog.Logger receiver style (e.g. `xlog.L().Info()...`).
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger annotated with a component name,
// the way every xg2g subsystem tags its own logger (e.g. "timeline",
// "signalcache", "requestcoord").
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// FromContext returns the logger embedded in ctx via zerolog.Ctx, falling
// back to the base logger when none is present.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
