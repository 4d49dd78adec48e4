package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/state"
	"github.com/calder-ai/rudder/pkg/models"
)

var (
	cleanupDryRun bool
	cleanupMaxAge time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old runs and stale decision files",
	Long: `Clean up old workflow state.

This command:
  - Deletes terminal runs older than the retention window
  - Removes decision files left in .rudder/decisions/

Active runs are never purged.

Examples:
  rudder cleanup                  # Purge runs older than 30 days
  rudder cleanup --max-age 168h   # Purge runs older than a week
  rudder cleanup --dry-run        # Show what would be purged`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be purged without purging")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 30*24*time.Hour, "Purge terminal runs older than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.GlobalDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No database found - nothing to purge.")
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

	if cleanupDryRun {
		runs, err := db.ListRuns(nil)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		count := countPurgeable(runs, time.Now().Add(-cleanupMaxAge))
		fmt.Printf("Dry run: would purge %d run(s) older than %s.\n", count, cleanupMaxAge)
		return nil
	}

	purged, err := db.PurgeOldRuns(cleanupMaxAge)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than %s.\n", purged, cleanupMaxAge)
	} else {
		fmt.Printf("No runs older than %s found.\n", cleanupMaxAge)
	}

	return cleanupDecisionFiles(cwd)
}

// countPurgeable reports how many runs a purge with the given cutoff
// would remove. Active runs are exempt regardless of age.
func countPurgeable(runs []models.WorkflowRun, cutoff time.Time) int {
	count := 0
	for _, r := range runs {
		if r.Status != models.RunStatusActive && r.StartedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

// cleanupDecisionFiles removes decision files no active run will ever
// apply.
func cleanupDecisionFiles(cwd string) error {
	dir := filepath.Join(cwd, ".rudder", "decisions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read decisions directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove decision file %s: %w", entry.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		fmt.Printf("Removed %d stale decision file(s).\n", removed)
	}
	return nil
}
