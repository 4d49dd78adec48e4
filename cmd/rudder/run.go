package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/approval"
	"github.com/calder-ai/rudder/internal/budget"
	"github.com/calder-ai/rudder/internal/config"
	"github.com/calder-ai/rudder/internal/dispatch"
	"github.com/calder-ai/rudder/internal/history"
	"github.com/calder-ai/rudder/internal/provider"
	"github.com/calder-ai/rudder/internal/queue"
	"github.com/calder-ai/rudder/internal/state"
	"github.com/calder-ai/rudder/internal/tui"
	"github.com/calder-ai/rudder/internal/workflow"
	"github.com/calder-ai/rudder/pkg/models"
)

var (
	runHeadless bool
	runUser     string
)

// eventBuffer sizes the emitter channel. Slow consumers drop events
// rather than stall the run.
const eventBuffer = 256

// retentionSweepInterval is how often aged approval requests are
// purged during a run.
const retentionSweepInterval = time.Minute

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run a request through the phased workflow",
	Long: `Run a request through the phased workflow.

The run moves through assess, plan, execute, test, verify, confirm
and commit. Destructive tool calls suspend the operation until you
approve or reject them, either in the TUI (y/n) or by dropping a
<id>.approve or <id>.reject file into .rudder/decisions/.

Follow-up requests typed into the TUI while a run is active are
queued and dispatched, highest priority first, once the run settles.

Use --headless to stream events to stdout instead of the TUI.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Stream events to stdout instead of the TUI")
	runCmd.Flags().StringVar(&runUser, "user", "local", "User id owning queued follow-ups")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	db, err := state.OpenProject(cwd)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	client, err := newProviderClient(cfg)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}
	exec := provider.NewToolExecutor(cwd)

	gate := approval.NewGate(
		approval.WithRetention(cfg.Approval.Retention),
		approval.WithApprovalStore(db),
	)
	watcher, err := approval.NewDecisionWatcher(gate, filepath.Join(cwd, ".rudder"))
	if err != nil {
		return fmt.Errorf("start decision watcher: %w", err)
	}
	defer watcher.Close()

	followups := queue.New(
		queue.WithStore(db),
		queue.WithPollInterval(cfg.Queue.PollInterval),
	)
	if msgs, err := db.ListMessagesByUser(runUser); err == nil {
		if n := followups.Restore(msgs); n > 0 {
			log.Printf("[run] restored %d queued follow-up(s)", n)
		}
	}

	emitter := workflow.NewEventEmitter(eventBuffer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Retention sweep: requests that outlive the retention window are
	// purged, resolving any blocked wait as an implicit rejection.
	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gate.Cleanup(time.Now())
			}
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		defer emitter.Close()

		if err := executeRun(ctx, cfg, db, client, exec, gate, emitter, request); err != nil {
			runErr <- err
			return
		}

		// The run settled; hand dispatch to the background poller,
		// which picks queued follow-ups highest priority first, one
		// in flight at a time.
		dispatchErr := make(chan error, 1)
		followups.StartPoller(ctx, runUser, func(msg models.QueuedMessage) {
			if err := executeRun(ctx, cfg, db, client, exec, gate, emitter, msg.Body); err != nil {
				if cerr := followups.Cancel(msg.ID); cerr != nil {
					log.Printf("[run] cancel follow-up %s: %v", msg.ID, cerr)
				}
				select {
				case dispatchErr <- err:
				default:
				}
				return
			}
			if cerr := followups.Complete(msg.ID); cerr != nil {
				log.Printf("[run] complete follow-up %s: %v", msg.ID, cerr)
			}
		})
		defer followups.Stop()

		ticker := time.NewTicker(cfg.Queue.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				runErr <- ctx.Err()
				return
			case err := <-dispatchErr:
				runErr <- err
				return
			case <-ticker.C:
				if queueIdle(followups, runUser) {
					runErr <- nil
					return
				}
			}
		}
	}()

	if runHeadless {
		printEvents(emitter.Events())
		return finish(runErr)
	}
	return runWithTUI(emitter.Events(), gate, followups, cfg, cancel, runErr)
}

// queueIdle reports whether the user's queue has no message queued or
// mid-dispatch. Processing entries only exist while the poller's
// handler is running, so idle means dispatch is truly finished.
func queueIdle(q *queue.FollowupQueue, user string) bool {
	for _, msg := range q.List(user) {
		if !msg.Status.Terminal() {
			return false
		}
	}
	return true
}

// executeRun wires the run-scoped components and drives one workflow
// run from assess to commit. The budget, conversation, and dispatcher
// are per-run; the gate, store, and emitter are shared.
func executeRun(ctx context.Context, cfg *config.Config, db *state.DB, client *provider.Client, exec *provider.ToolExecutor, gate *approval.Gate, emitter *workflow.EventEmitter, request string) error {
	tracker := budget.NewTracker(cfg.Budget.Ceiling,
		budget.WithWarningThreshold(cfg.Budget.WarningThreshold),
		budget.WithEmergencyThreshold(cfg.Budget.EmergencyThreshold),
		budget.WithEmergencyReserve(cfg.Budget.EmergencyReserve),
	)
	compressor := history.NewCompressor(cfg.History.KeepRecent, cfg.History.MaxGists)
	dispatcher := dispatch.NewDispatcher(cfg.Dispatcher.Concurrency, cfg.Dispatcher.ToolTimeout)

	driver := workflow.NewDriver(tracker, compressor, dispatcher, gate, emitter,
		workflow.WithMaxOutputChars(cfg.Output.MaxChars),
		workflow.WithMinOutputChars(cfg.Output.MinChars))
	driver.AppendTurn("user", request)

	machine := workflow.NewMachine(cfg.Phases, buildSteps(client, exec, driver), emitter,
		workflow.WithStore(db))

	run := &models.WorkflowRun{
		ID:      uuid.New().String()[:8],
		Request: request,
	}
	return machine.Run(ctx, run)
}

// runWithTUI renders the run in the terminal UI and blocks until the
// run finishes or the user quits.
func runWithTUI(events <-chan workflow.Event, gate *approval.Gate, followups *queue.FollowupQueue, cfg *config.Config, cancel context.CancelFunc, runErr <-chan error) error {
	// Log output corrupts the alt-screen display.
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	app := tui.NewApp(events, gate, followups, runUser, cfg.Budget.Ceiling)
	program := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		cancel()
		<-runErr
		return fmt.Errorf("tui: %w", err)
	}

	// The user may have quit before the run finished.
	cancel()
	return finish(runErr)
}

// finish reports the run outcome, treating interruption as a clean
// abandon rather than a failure.
func finish(runErr <-chan error) error {
	err := <-runErr
	if errors.Is(err, context.Canceled) {
		color.Yellow("run abandoned")
		return nil
	}
	return err
}

// printEvents streams workflow events to stdout for headless runs.
func printEvents(events <-chan workflow.Event) {
	for ev := range events {
		switch ev.Type {
		case workflow.EventPhaseChanged:
			color.Cyan("→ %s", ev.Phase)
		case workflow.EventPhaseRetried:
			color.Yellow("↻ %s: %s", ev.Phase, ev.Message)
		case workflow.EventToolCalled:
			fmt.Printf("  %s ...\n", ev.Tool)
		case workflow.EventToolSucceeded:
			fmt.Printf("  %s ok\n", ev.Tool)
		case workflow.EventToolFailed:
			color.Red("  %s failed: %s", ev.Tool, ev.Message)
		case workflow.EventApprovalRequired:
			color.Yellow("⏸ approval %s: %s (rudder approvals approve %s)", ev.ApprovalID, ev.Message, ev.ApprovalID)
		case workflow.EventApprovalResolved:
			fmt.Printf("  approval %s resolved: %s\n", ev.ApprovalID, ev.Message)
		case workflow.EventBudgetWarning:
			color.Yellow("! %s", ev.Message)
		case workflow.EventEmergencyMode:
			color.Red("!! %s", ev.Message)
		case workflow.EventHistoryCompressed:
			fmt.Printf("  %s\n", ev.Message)
		case workflow.EventRunCompleted:
			color.Green("✓ run %s complete (%d tokens, $%.4f)", ev.RunID, ev.TokensUsed, ev.Cost)
		case workflow.EventRunFailed:
			color.Red("✗ run %s failed: %s", ev.RunID, ev.Message)
		}
	}
}
