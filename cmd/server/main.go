// Package main is the entry point for the finhelm-flags server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Build the flag registry (seeded with the default flag set unless
//     SEED_FLAGS=false).
//  3. Construct the evaluation engine with metrics hooks attached.
//  4. Start the HTTP server and wait for SIGINT/SIGTERM, then gracefully
//     shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jasonsaas/finhelm-flags/internal/config"
	"github.com/jasonsaas/finhelm-flags/internal/logging"
	"github.com/jasonsaas/finhelm-flags/internal/metrics"
	"github.com/jasonsaas/finhelm-flags/internal/middleware"
	"github.com/jasonsaas/finhelm-flags/internal/registry"
	"github.com/jasonsaas/finhelm-flags/internal/server"
	"github.com/jasonsaas/finhelm-flags/internal/service"
	"github.com/jasonsaas/finhelm-flags/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg *registry.Registry
	if cfg.SeedFlags {
		reg, err = registry.NewSeeded()
		if err != nil {
			return fmt.Errorf("seed registry: %w", err)
		}
	} else {
		reg = registry.New()
	}

	m := metrics.New()
	engine := service.New(reg, cfg.Environment,
		service.WithLogger(log),
		service.WithAnalyticsCapacity(cfg.AnalyticsCapacity),
		service.WithEvaluationHook(m.RecordEvaluation),
		service.WithFlagCountHook(m.SetFlagCount),
	)
	m.SetFlagCount(reg.Len())

	apiHandler := server.NewHTTPHandler(server.Config{
		Engine:       engine,
		Metrics:      m,
		AdminKeyHash: cfg.AdminAPIKeyHash,
		MaxBodyBytes: cfg.MaxJSONBodySize,
	})
	handler := middleware.RequestLogging(log)(apiHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(handler, "finhelm-flags-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	defer listener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started",
		"addr", cfg.HTTPAddr,
		"environment", cfg.Environment,
		"flags", reg.Len(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}
