package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/calder-ai/rudder/internal/config"
	"github.com/calder-ai/rudder/pkg/models"
)

// ErrNoStep is returned when the machine reaches a phase it has no
// step function registered for.
var ErrNoStep = errors.New("no step registered for phase")

// StepFunc performs the work of one phase attempt. The context carries
// the phase deadline; a step that outlives it is treated as a phase
// timeout. Steps mutate the run's state bag and tool log but never its
// phase or status, which belong to the machine.
type StepFunc func(ctx context.Context, run *models.WorkflowRun) error

// RunStore is the slice of persistence the machine needs. The SQLite
// store satisfies it; tests substitute an in-memory recorder.
type RunStore interface {
	CreateRun(r *models.WorkflowRun) error
	UpdateRun(r *models.WorkflowRun) error
}

// Machine advances a workflow run through its phases. Transitions are
// monotonically forward; a failed phase attempt routes through the
// error phase and back to the phase that failed, up to that phase's
// retry budget. It is not safe for concurrent use: one run, one driver.
type Machine struct {
	phases  config.PhasesConfig
	steps   map[models.Phase]StepFunc
	emitter *EventEmitter
	pause   *PauseController
	store   RunStore
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithStore attaches a persistence backend. The machine writes the run
// on creation and after every transition; write failures are logged,
// not fatal.
func WithStore(store RunStore) MachineOption {
	return func(m *Machine) {
		m.store = store
	}
}

// WithPauseController attaches a shared pause controller. Without one
// the machine runs uninterruptible.
func WithPauseController(p *PauseController) MachineOption {
	return func(m *Machine) {
		m.pause = p
	}
}

// NewMachine creates a machine with the given per-phase budgets and
// step functions. The emitter must not be nil; callers that don't
// subscribe can pass a small-buffer emitter and ignore it.
func NewMachine(phases config.PhasesConfig, steps map[models.Phase]StepFunc, emitter *EventEmitter, opts ...MachineOption) *Machine {
	m := &Machine{
		phases:  phases,
		steps:   steps,
		emitter: emitter,
		pause:   NewPauseController(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pause returns the machine's pause controller.
func (m *Machine) Pause() *PauseController {
	return m.pause
}

// Run drives the run from its current phase to commit. On a phase
// exhausting its retries the run is marked failed with its last error
// and the tool log intact, and the phase error is returned. A cancelled
// context marks the run abandoned.
func (m *Machine) Run(ctx context.Context, run *models.WorkflowRun) error {
	if run.Phase == "" {
		run.Phase = models.PhaseAssess
	}
	run.Status = models.RunStatusActive
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	m.persistCreate(run)

	for {
		if err := m.pause.WaitIfPaused(ctx); err != nil {
			return m.abandon(run, err)
		}
		if ctx.Err() != nil {
			return m.abandon(run, ctx.Err())
		}

		m.emit(Event{Type: EventPhaseChanged, RunID: run.ID, Phase: run.Phase,
			Message: fmt.Sprintf("entering %s", run.Phase)}, run)
		m.persistUpdate(run)

		if err := m.attemptPhase(ctx, run); err != nil {
			return m.fail(run, err)
		}

		if run.Phase.Terminal() {
			return m.complete(run)
		}

		next, ok := run.Phase.Next()
		if !ok {
			return m.fail(run, fmt.Errorf("no phase after %s", run.Phase))
		}
		run.Phase = next
		run.Continuations++
	}
}

// attemptPhase runs the current phase's step, retrying through the
// error phase up to the phase's budget. Returns nil once an attempt
// succeeds and the run is back on the phase it started in.
func (m *Machine) attemptPhase(ctx context.Context, run *models.WorkflowRun) error {
	budget := m.phases.For(run.Phase)
	step, ok := m.steps[run.Phase]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStep, run.Phase)
	}
	phase := run.Phase

	var lastErr error
	for attempt := 0; attempt <= budget.MaxRetries; attempt++ {
		if attempt > 0 {
			// Retry path: the run visited the error phase and
			// returns to the phase that failed.
			run.Phase = phase
			m.emit(Event{Type: EventPhaseRetried, RunID: run.ID, Phase: phase,
				Message: fmt.Sprintf("retry %d/%d after: %v", attempt, budget.MaxRetries, lastErr)}, run)
		}

		lastErr = m.runStep(ctx, run, step, budget.Timeout)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Parent cancellation is not a phase failure.
			return ctx.Err()
		}

		run.Phase = models.PhaseError
		run.ErrorCount++
		run.LastError = lastErr.Error()
		log.Printf("[workflow] run %s: phase %s attempt %d failed: %v", run.ID, phase, attempt+1, lastErr)
		m.persistUpdate(run)
	}
	return fmt.Errorf("phase %s failed after %d retries: %w", phase, budget.MaxRetries, lastErr)
}

// runStep executes one attempt under the phase deadline.
func (m *Machine) runStep(ctx context.Context, run *models.WorkflowRun, step StepFunc, timeout time.Duration) error {
	phaseCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := step(phaseCtx, run)
	if err == nil && phaseCtx.Err() == context.DeadlineExceeded {
		// The step returned but blew its deadline; the phase still
		// counts as timed out.
		err = phaseCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("phase %s exceeded its %s deadline", run.Phase, timeout)
	}
	return err
}

func (m *Machine) complete(run *models.WorkflowRun) error {
	now := time.Now()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now
	m.persistUpdate(run)
	m.emit(Event{Type: EventRunCompleted, RunID: run.ID, Phase: run.Phase,
		Message: "run completed"}, run)
	return nil
}

func (m *Machine) fail(run *models.WorkflowRun, err error) error {
	now := time.Now()
	run.Status = models.RunStatusFailed
	run.LastError = err.Error()
	run.CompletedAt = &now
	m.persistUpdate(run)
	m.emit(Event{Type: EventRunFailed, RunID: run.ID, Phase: run.Phase,
		Message: err.Error(), Error: err}, run)
	return err
}

func (m *Machine) abandon(run *models.WorkflowRun, err error) error {
	now := time.Now()
	run.Status = models.RunStatusAbandoned
	run.CompletedAt = &now
	m.persistUpdate(run)
	m.emit(Event{Type: EventRunFailed, RunID: run.ID, Phase: run.Phase,
		Message: "run abandoned", Error: err}, run)
	return err
}

func (m *Machine) emit(ev Event, run *models.WorkflowRun) {
	ev.Timestamp = time.Now()
	ev.TokensUsed = run.TokensUsed
	ev.Cost = run.Cost
	m.emitter.Emit(ev)
}

func (m *Machine) persistCreate(run *models.WorkflowRun) {
	if m.store == nil {
		return
	}
	if err := m.store.CreateRun(run); err != nil {
		log.Printf("[workflow] persist run %s: %v", run.ID, err)
	}
}

func (m *Machine) persistUpdate(run *models.WorkflowRun) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateRun(run); err != nil {
		log.Printf("[workflow] persist run %s: %v", run.ID, err)
	}
}
