// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/novywave/novywave-core/internal/app"
	"github.com/novywave/novywave-core/internal/metricsserver"
	"github.com/novywave/novywave-core/internal/parsergw"
	"github.com/novywave/novywave-core/internal/xlog"
)

var version = "v0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	sessionPath := flag.String("session", "", "path to session TOML document")
	metricsAddr := flag.String("metrics-addr", ":9090", "debug metrics/health server address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Level: *logLevel, Service: "novywave-core", Version: version})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveSessionPath := strings.TrimSpace(*sessionPath)
	if effectiveSessionPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		effectiveSessionPath = filepath.Join(home, ".config", "novywave", "session.toml")
	}

	gateway := parsergw.NewFakeGateway()

	app.New(ctx, gateway, effectiveSessionPath, version)

	srv := metricsserver.New(*metricsAddr, nil)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("debug server exited with error")
		}
	}()

	logger.Info().Str("session_path", effectiveSessionPath).Str("metrics_addr", *metricsAddr).Msg("novywave-core started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
}
