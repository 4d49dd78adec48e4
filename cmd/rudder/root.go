package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rudder",
	Short: "Phased agent workflow orchestrator",
	Long: `Rudder drives a coding agent through a phased workflow:
assess, plan, execute, test, verify, confirm, commit.

Each run tracks its token budget, bounds tool output, compresses
history under budget pressure, and suspends destructive tool calls
for human approval. Follow-up requests submitted during a run are
queued and dispatched once the run settles.

Run 'rudder run "<request>"' to start a workflow.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}
