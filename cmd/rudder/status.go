package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/state"
	"github.com/calder-ai/rudder/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run state",
	Long: `Display the state of the current workflow run.

Shows:
  - The active run, its phase, and its token usage
  - Pending approval requests
  - Recent completed runs`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Try the project database first, then global.
	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.GlobalDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs yet. Start one with 'rudder run \"<request>\"'.")
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
		fmt.Println("No active run.")
		return displayRecentRuns(db)
	}

	displayRun(db, run)
	fmt.Println()
	return displayRecentRuns(db)
}

func displayRun(db *state.DB, r *models.WorkflowRun) {
	elapsed := formatDuration(time.Since(r.StartedAt))

	fmt.Printf("Current Run: %s\n", r.ID)
	fmt.Printf("  Request: %s\n", truncateLine(r.Request, 70))
	fmt.Printf("  Phase: %s\n", color.CyanString(string(r.Phase)))
	fmt.Printf("  Started: %s ago\n", elapsed)
	fmt.Printf("  Tokens: %s  Cost: $%.4f\n", formatNumber(r.TokensUsed), r.Cost)
	if r.ErrorCount > 0 {
		fmt.Printf("  Retries: %d (last error: %s)\n", r.ErrorCount, truncateLine(r.LastError, 60))
	}

	approvals, err := db.ListApprovalsByRun(r.ID)
	if err != nil {
		return
	}
	for _, a := range approvals {
		if a.Pending() {
			color.Yellow("  ⏸ approval %s pending: %s", a.ID, a.Reason)
		}
	}
}

func displayRecentRuns(db *state.DB) error {
	runs, err := db.ListRuns(nil)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	var recent []models.WorkflowRun
	for _, r := range runs {
		if r.Status != models.RunStatusActive {
			recent = append(recent, r)
			if len(recent) >= 5 {
				break
			}
		}
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Println("Recent Runs:")
	for _, r := range recent {
		elapsed := formatDuration(time.Since(r.StartedAt))
		glyph := statusGlyph(r.Status)
		fmt.Printf("  %s %s: %s (%s ago, %s tokens)\n",
			glyph, r.ID, truncateLine(r.Request, 50), elapsed, formatNumber(r.TokensUsed))
	}
	return nil
}

func statusGlyph(s models.RunStatus) string {
	switch s {
	case models.RunStatusCompleted:
		return color.GreenString("✓")
	case models.RunStatusFailed:
		return color.RedString("✗")
	case models.RunStatusAbandoned:
		return color.YellowString("–")
	default:
		return " "
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		result.WriteString(",")
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
