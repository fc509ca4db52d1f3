package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrd/internal/monitor"
)

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh interval")
}

// watchCmd opens the live dashboard
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of workflows and pending checkpoints",
	Long: `Open a terminal dashboard that polls the daemon for running workflows,
refinement progress and human checkpoints waiting for an answer.

Keys: r refresh, q quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		p := tea.NewProgram(monitor.NewModel(newClient(), watchInterval),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		_, err := p.Run()
		return err
	},
}
