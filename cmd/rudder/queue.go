package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/queue"
	"github.com/calder-ai/rudder/internal/state"
	"github.com/calder-ai/rudder/pkg/models"
)

var (
	queueUser     string
	queuePriority int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage queued follow-up requests",
	Long: `Manage queued follow-up requests.

Follow-ups submitted while a run is active wait here until the run
settles, then dispatch highest priority first, ties broken by
arrival order. Records are kept after completion or cancellation.`,
	RunE: runQueueList,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <request>",
	Short: "Queue a follow-up request",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued follow-up requests",
	RunE:  runQueueList,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Cancel all queued follow-up requests",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueUser, "user", "local", "User id owning the queue")
	queueAddCmd.Flags().IntVar(&queuePriority, "priority", 0, "Dispatch priority (higher dispatches first)")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}

// openQueue opens the project store and hydrates a queue from it.
func openQueue() (*queue.FollowupQueue, *state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("get working directory: %w", err)
	}

	db, err := state.OpenProject(cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}

	q := queue.New(queue.WithStore(db))
	if msgs, err := db.ListMessagesByUser(queueUser); err == nil {
		q.Restore(msgs)
	}
	return q, db, nil
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	q, db, err := openQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	body := strings.Join(args, " ")
	msg := q.Enqueue(queueUser, "", body, queuePriority, nil)
	fmt.Printf("Queued %s (priority %d)\n", msg.ID, msg.Priority)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	// List from the store so terminal records show too.
	_, db, err := openQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	msgs, err := db.ListMessagesByUser(queueUser)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	for _, m := range msgs {
		glyph := messageGlyph(m.Status)
		fmt.Printf("%s %s p%d  %s\n", glyph, m.ID, m.Priority, truncateLine(m.Body, 60))
	}
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	q, db, err := openQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	n := q.ClearUserQueue(queueUser)
	fmt.Printf("Cancelled %d queued message(s)\n", n)
	return nil
}

func messageGlyph(s models.MessageStatus) string {
	switch s {
	case models.MessageQueued:
		return color.CyanString("●")
	case models.MessageProcessing:
		return color.YellowString("◐")
	case models.MessageCompleted:
		return color.GreenString("✓")
	case models.MessageCancelled:
		return color.RedString("✗")
	default:
		return " "
	}
}
