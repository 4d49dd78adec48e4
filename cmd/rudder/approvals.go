package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/state"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and decide pending approval requests",
	Long: `Inspect and decide pending approval requests.

Decisions are delivered to the active run through decision files in
.rudder/decisions/, which the run watches. A decision for a request
the run no longer holds is ignored.`,
	RunE: runApprovalsList,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests for the active run",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeDecision(args[0]+".approve", "")
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id> [reason]",
	Short: "Reject a pending request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		return writeDecision(args[0]+".reject", reason)
	},
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No pending approvals.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	run, err := db.GetActiveRun()
	if err != nil {
		return fmt.Errorf("get active run: %w", err)
	}
	if run == nil {
		fmt.Println("No active run, no pending approvals.")
		return nil
	}

	approvals, err := db.ListApprovalsByRun(run.ID)
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}

	pending := 0
	for _, a := range approvals {
		if !a.Pending() {
			continue
		}
		pending++
		color.Yellow("%s  %s", a.ID, a.Reason)
		fmt.Printf("    approve: rudder approvals approve %s\n", a.ID)
		fmt.Printf("    reject:  rudder approvals reject %s [reason]\n", a.ID)
	}
	if pending == 0 {
		fmt.Println("No pending approvals.")
	}
	return nil
}

// writeDecision drops a decision file for the active run's watcher.
func writeDecision(name, content string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dir := filepath.Join(cwd, ".rudder", "decisions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create decisions directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write decision file: %w", err)
	}

	fmt.Printf("Decision recorded: %s\n", name)
	return nil
}
