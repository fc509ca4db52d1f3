// Orchestrd is the workflow orchestration daemon.
//
// It plans workflows from a task analysis, executes them against registered
// nodes with parallel quality gates and a bounded refinement loop, and pauses
// for human approval where the plan asks for it.
//
// Usage:
//
//	# Start the HTTP daemon with an embedded NATS server
//	orchestrd serve
//
//	# Serve the MCP tools over stdio
//	orchestrd mcp
//
//	# Serve a node for a remote daemon by running a local command
//	orchestrd worker --node reviewer --exec ./review.sh
//
// Configuration is read from ~/.config/orchestrd/config.yaml (or --config)
// and ORCHESTRD_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrd",
		Short: "Dynamic workflow orchestration daemon",
		Long: `orchestrd plans and runs code-generation workflows: a coder node, parallel
quality gates, a bounded refinement loop and optional human approval.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/orchestrd/config.yaml)")

	root.AddCommand(newServeCmd(), newMCPCmd(), newWorkerCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "orchestrd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadConfig loads the configuration named by --config
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
