package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
	api "github.com/fyrsmithlabs/orchestrd/internal/http"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		Long: `Run the orchestrd daemon: the HTTP API, server-sent workflow events and
Prometheus metrics. NATS is embedded unless nats.embedded is false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, zapcore.AddSync(os.Stdout))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// runServe starts the daemon and blocks until ctx is cancelled or the HTTP
// server fails.
func runServe(ctx context.Context, cfg *config.Config, out zapcore.WriteSyncer) error {
	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	zl := a.logger.Underlying()

	srv, err := api.NewServer(a.runner, a.hitl, zl.Named("http"), &api.Config{Addr: cfg.Server.Addr},
		api.WithEventStream(a.nc, a.publisher.Subjects()),
		api.WithVersion(version),
		api.WithMetrics(api.NewHTTPMetrics(zl, a.telemetry.MeterProvider())),
	)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		zl.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	case err = <-errCh:
		if err != nil {
			zl.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		zl.Warn("http shutdown incomplete", zap.Error(serr))
	}
	a.close(shutdownCtx)
	return err
}
