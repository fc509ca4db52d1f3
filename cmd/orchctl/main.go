// Package main implements orchctl, the command-line client for the orchestrd
// HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrd/internal/client"
)

var (
	// serverURL is the base URL of the orchestrd daemon
	serverURL string
	// outputJSON prints raw API documents instead of tables
	outputJSON bool
	// requestTimeout bounds every API call
	requestTimeout time.Duration

	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchctl",
	Short: "CLI for orchestrd workflow operations",
	Long: `orchctl talks to a running orchestrd daemon. It plans and starts workflows,
answers human checkpoints and shows live progress.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", client.DefaultURL, "orchestrd server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check orchestrd server health",
	Long: `Check the health of the orchestrd daemon.

Examples:
  # Check health
  orchctl health

  # Check a different server
  orchctl health --server http://build-host:9191`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithTimeout(requestTimeout))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	h, err := newClient().Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, h)
	}
	fmt.Fprintf(out, "Server Status: %s\n", h.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	if h.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", h.Version)
	}
	fmt.Fprintf(out, "Workflows: %d (%d running)\n", h.Workflows, h.Running)
	fmt.Fprintf(out, "Pending checkpoints: %d\n", h.PendingRequests)
	fmt.Fprintf(out, "Event stream: %t\n", h.EventStream)
	return nil
}
