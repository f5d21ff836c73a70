// SPDX-License-Identifier: MIT

// Package metricsserver is the engine's debug HTTP surface: a fixed
// /metrics and /healthz pair, nothing else. Grounded on the teacher's
// internal/control/http/v3/router_v3.go (chi.Router as the base, routes
// registered directly rather than through a generated mux) and its
// internal/api/middleware/otel.go (otelhttp wrapping). Here /metrics is
// wrapped in otelhttp; /healthz is not traced.
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/novywave/novywave-core/internal/xlog"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownGrace     = 5 * time.Second
)

// HealthChecker reports whether the engine is ready to serve, used for
// the /healthz handler.
type HealthChecker interface {
	Healthy() bool
}

// Server is the debug metrics/health HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr. health may be nil, in which
// case /healthz always reports ok.
func New(addr string, health HealthChecker) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics", otelhttp.WithTracerProvider(otel.GetTracerProvider())))
	r.Get("/healthz", healthzHandler(health))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

func healthzHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil && !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Start runs the server until ctx is canceled, then shuts it down with a
// bounded grace period. Matches the teacher's Container.Run pattern of
// running the listener in a goroutine and shutting it down on context
// cancellation rather than os.Signal directly.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		xlog.WithComponent("metricsserver").Info().Str("addr", s.httpServer.Addr).Msg("debug server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
