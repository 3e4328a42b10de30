// Package server wires the HTTP API, probes and metrics into one listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/health"
	middleware "github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/middleware"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/router"
)

type Options struct {
	Addr string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Ready   []health.Check
}

// Handler builds the full route tree.
func Handler(opts Options, logger *slog.Logger, api *router.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, opts.Ready...))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	api.Routes(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, opts Options, logger *slog.Logger, api *router.API) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           Handler(opts, logger, api),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", opts.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
