package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workflow tools over MCP stdio",
		Long: `Serve plan, workflow and checkpoint tools to an MCP client on stdin/stdout.
Logs go to stderr so they never corrupt the protocol stream.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMCP(cmd.Context(), cfg)
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, zapcore.AddSync(os.Stderr))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		a.close(shutdownCtx)
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:          "orchestrd",
		Version:       version,
		Logger:        a.logger.Underlying().Named("mcp"),
		MeterProvider: a.telemetry.MeterProvider(),
	}, a.runner, a.hitl)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	return srv.Run(ctx)
}
