package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/calder-ai/rudder/internal/approval"
	"github.com/calder-ai/rudder/internal/bound"
	"github.com/calder-ai/rudder/internal/budget"
	"github.com/calder-ai/rudder/internal/dispatch"
	"github.com/calder-ai/rudder/internal/history"
	"github.com/calder-ai/rudder/pkg/models"
)

// ErrOverBudget is returned when a batch would push token usage past
// the ceiling.
var ErrOverBudget = errors.New("token budget exceeded")

// Driver owns the run-scoped components and exposes the operations
// phase steps use to do tool work: budget checks, history compression,
// approval gating, batched dispatch, and output bounding. One driver
// per run; it is called only from the coordinating phase step, so it
// needs no locking of its own.
type Driver struct {
	tracker    *budget.Tracker
	compressor *history.Compressor
	dispatcher *dispatch.Dispatcher
	gate       *approval.Gate
	emitter    *EventEmitter
	maxChars   int
	minChars   int

	turns  []history.Turn
	warned bool
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithMaxOutputChars overrides the tool-output bounding limit.
func WithMaxOutputChars(n int) DriverOption {
	return func(d *Driver) {
		d.maxChars = n
	}
}

// WithMinOutputChars overrides the floor the bounding limit is clamped
// to.
func WithMinOutputChars(n int) DriverOption {
	return func(d *Driver) {
		d.minChars = n
	}
}

// NewDriver wires the run-scoped components together.
func NewDriver(tracker *budget.Tracker, compressor *history.Compressor, dispatcher *dispatch.Dispatcher, gate *approval.Gate, emitter *EventEmitter, opts ...DriverOption) *Driver {
	d := &Driver{
		tracker:    tracker,
		compressor: compressor,
		dispatcher: dispatcher,
		gate:       gate,
		emitter:    emitter,
		maxChars:   bound.DefaultMaxChars,
		minChars:   bound.MinChars,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AppendTurn records a conversation turn.
func (d *Driver) AppendTurn(role, content string) {
	d.turns = append(d.turns, history.Turn{Role: role, Content: content})
	d.tracker.RecordEstimated(0, budget.EstimateTokens(content))
}

// Turns returns the current conversation history.
func (d *Driver) Turns() []history.Turn {
	out := make([]history.Turn, len(d.turns))
	copy(out, d.turns)
	return out
}

// Tracker returns the run's budget tracker.
func (d *Driver) Tracker() *budget.Tracker {
	return d.tracker
}

// Strategy returns the degradation policy for the next generation
// step. Outside emergency mode it is the zero policy.
func (d *Driver) Strategy() budget.Strategy {
	if !d.tracker.Check(0).EmergencyMode {
		return budget.Strategy{MaxOutputTokens: budget.DefaultMaxOutputTokens}
	}
	return d.tracker.Emergency()
}

// RunTools gates, dispatches, and bounds a batch of tool tasks on
// behalf of the current phase. Results come back in input order.
// Rejected approvals cancel only their own task; the batch and the run
// continue. The returned error is reserved for budget exhaustion and
// context cancellation.
func (d *Driver) RunTools(ctx context.Context, run *models.WorkflowRun, tasks []models.ToolTask) ([]models.ToolExecutionResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	if err := d.checkBudget(ctx, run, tasks); err != nil {
		return nil, err
	}

	// Resolve approvals before dispatch so a pending decision never
	// holds a batch slot.
	results := make([]models.ToolExecutionResult, len(tasks))
	var approved []models.ToolTask
	var approvedIdx []int
	for i, task := range tasks {
		d.emit(Event{Type: EventToolCalled, RunID: run.ID, Phase: run.Phase, Tool: task.Name}, run)

		ok, res := d.resolveApproval(ctx, run, task)
		if !ok {
			results[i] = res
			continue
		}
		approved = append(approved, task)
		approvedIdx = append(approvedIdx, i)
	}

	dispatched := d.dispatcher.ExecuteParallel(ctx, approved)
	for j, res := range dispatched {
		results[approvedIdx[j]] = res
	}

	for i := range results {
		d.finishResult(run, &results[i])
	}
	return results, ctx.Err()
}

// checkBudget consults the tracker before committing to a batch,
// compressing history on warning and emitting mode events. The batch
// is refused only when it would strictly exceed the ceiling.
func (d *Driver) checkBudget(ctx context.Context, run *models.WorkflowRun, tasks []models.ToolTask) error {
	var incoming int64
	for _, task := range tasks {
		incoming += budget.EstimateTokens(fmt.Sprint(task.Input))
	}

	check := d.tracker.Check(incoming)
	if check.Warning && !d.warned {
		d.warned = true
		d.emit(Event{Type: EventBudgetWarning, RunID: run.ID, Phase: run.Phase,
			Message: fmt.Sprintf("token usage at %.1f%% of ceiling", check.Percentage)}, run)
	}
	if check.Warning {
		d.compressHistory(run)
	}
	if check.EmergencyMode {
		d.emit(Event{Type: EventEmergencyMode, RunID: run.ID, Phase: run.Phase,
			Message: fmt.Sprintf("%d tokens available", check.TokensAvailable)}, run)
	}
	if !check.Allowed {
		return fmt.Errorf("%w: %.1f%% of ceiling", ErrOverBudget, check.Percentage)
	}
	return ctx.Err()
}

// compressHistory folds older turns into a synopsis and reclaims the
// estimated savings from the tracker.
func (d *Driver) compressHistory(run *models.WorkflowRun) {
	result := d.compressor.Compress(d.turns)
	if !result.Compressed {
		return
	}
	d.turns = result.Turns
	d.tracker.Release(result.SavedTokens)
	d.emit(Event{Type: EventHistoryCompressed, RunID: run.ID, Phase: run.Phase,
		Message: fmt.Sprintf("folded %d turns, reclaimed ~%d tokens", result.RemovedTurns, result.SavedTokens)}, run)
}

// resolveApproval gates one task. Returns ok=true when the task may be
// dispatched; otherwise the second value is the cancellation result
// for the task's slot.
func (d *Driver) resolveApproval(ctx context.Context, run *models.WorkflowRun, task models.ToolTask) (bool, models.ToolExecutionResult) {
	needed, reason := d.gate.RequiresApproval(task.Name, task.Input)
	if !needed {
		return true, models.ToolExecutionResult{}
	}

	req := d.gate.Request(run.ID, task.Name, task.Input, reason)
	d.emit(Event{Type: EventApprovalRequired, RunID: run.ID, Phase: run.Phase,
		Tool: task.Name, ApprovalID: req.ID, Message: reason}, run)

	decision, err := d.gate.Wait(ctx, req.ID)
	if err != nil {
		// Expired or cancelled while pending: implicit rejection.
		decision = models.ApprovalDecision{Approved: false, Reason: err.Error()}
	}
	d.emit(Event{Type: EventApprovalResolved, RunID: run.ID, Phase: run.Phase,
		Tool: task.Name, ApprovalID: req.ID, Message: decision.Reason}, run)

	if decision.Approved {
		return true, models.ToolExecutionResult{}
	}
	log.Printf("[workflow] run %s: %s blocked: %s", run.ID, task.Name, decision.Reason)
	return false, models.ToolExecutionResult{
		Tool:             task.Name,
		Success:          false,
		Err:              fmt.Errorf("cancelled: %s", decision.Reason),
		RequiresApproval: true,
	}
}

// finishResult bounds a result's output, books its consumption, and
// appends it to the run's tool log.
func (d *Driver) finishResult(run *models.WorkflowRun, res *models.ToolExecutionResult) {
	var errMsg string
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	if res.Success {
		bounded := bound.TruncateWithFloor(res.Data, d.maxChars, d.minChars)
		res.Data = bounded.Content
		if res.TokensUsed > 0 {
			d.tracker.RecordExact(0, res.TokensUsed)
		} else {
			res.TokensUsed = budget.EstimateTokensForLength(len(bounded.Content))
			d.tracker.RecordEstimated(0, res.TokensUsed)
		}
		d.tracker.RecordCost(res.Cost)
		d.emit(Event{Type: EventToolSucceeded, RunID: run.ID, Phase: run.Phase, Tool: res.Tool}, run)
	} else if !res.RequiresApproval {
		d.emit(Event{Type: EventToolFailed, RunID: run.ID, Phase: run.Phase,
			Tool: res.Tool, Message: errMsg, Error: res.Err}, run)
	}

	run.ToolLog = append(run.ToolLog, models.ToolRecord{
		Tool:      res.Tool,
		Phase:     run.Phase,
		Success:   res.Success,
		Error:     errMsg,
		Tokens:    res.TokensUsed,
		Duration:  res.Duration,
		StartedAt: time.Now().Add(-res.Duration),
	})
	run.TokensUsed = d.tracker.Used()
	run.Cost = d.tracker.Cost()
}

func (d *Driver) emit(ev Event, run *models.WorkflowRun) {
	ev.Timestamp = time.Now()
	ev.TokensUsed = d.tracker.Used()
	ev.Cost = d.tracker.Cost()
	d.emitter.Emit(ev)
}
