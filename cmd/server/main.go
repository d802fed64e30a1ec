package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskgate/internal/automation/handler"
	"taskgate/internal/platform/config"
	"taskgate/internal/platform/httpserver"
	"taskgate/internal/platform/logger"
	httptransport "taskgate/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "taskgate-server",
		Short:         "Serve the conversational task automation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "taskgate-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	automation := handler.New(app.drafts, app.gateway, log, app.httpMetrics, app.jwt,
		handler.WithRequestTimeout(cfg.Server.RequestTimeout),
		handler.WithThrottle(app.throttle),
		handler.WithRateLimit(app.rateLimit))
	router := httptransport.NewRouter(prometheus.DefaultGatherer, app.healthChecks, automation)
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting taskgate",
			"addr", cfg.Server.Addr,
			"environment", cfg.Server.Environment,
			"idempotency_backend", cfg.Automation.IdempotencyBackend,
			"handlers", app.handlerKeys,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
