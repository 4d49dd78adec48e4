package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// DefaultConcurrency is the batch size for concurrent tool execution.
const DefaultConcurrency = 4

// ToolEvent reports dispatcher progress to an optional observer.
type ToolEvent struct {
	// Tool is the name of the tool.
	Tool string
	// Done indicates the execution settled; false means it started.
	Done bool
	// Result holds the outcome for settled executions.
	Result *models.ToolExecutionResult
}

// Dispatcher groups ready tool calls into fixed-size concurrent batches
// and runs each through the timeout-enforced executor. Batches are
// strictly sequential; tasks within a batch are strictly concurrent.
type Dispatcher struct {
	// concurrency is the batch size.
	concurrency int
	// toolTimeout is the per-tool deadline.
	toolTimeout time.Duration
	// observer receives progress events when set.
	observer func(ToolEvent)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver sets a callback receiving tool start/settle events.
// The callback runs on dispatcher goroutines and must not block.
func WithObserver(fn func(ToolEvent)) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// NewDispatcher creates a Dispatcher. Non-positive arguments fall back
// to the defaults.
func NewDispatcher(concurrency int, toolTimeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	d := &Dispatcher{
		concurrency: concurrency,
		toolTimeout: toolTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// indexedTask pairs a task with its position in the caller's slice so
// results land in input order regardless of priority scheduling.
type indexedTask struct {
	task  models.ToolTask
	index int
}

// ExecuteParallel runs all tasks and returns one result per task, in
// the caller's original submission order. Internally a working copy is
// sorted by descending priority and processed in batches of the
// configured concurrency; a batch fully settles before the next one
// starts. A failing task never cancels its batch siblings - its slot
// simply holds a failure record.
func (d *Dispatcher) ExecuteParallel(ctx context.Context, tasks []models.ToolTask) []models.ToolExecutionResult {
	results := make([]models.ToolExecutionResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	ordered := make([]indexedTask, len(tasks))
	for i, t := range tasks {
		ordered[i] = indexedTask{task: t, index: i}
	}
	// Stable keeps arrival order among equal priorities.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].task.Priority > ordered[j].task.Priority
	})

	for start := 0; start < len(ordered); start += d.concurrency {
		end := start + d.concurrency
		if end > len(ordered) {
			end = len(ordered)
		}
		batch := ordered[start:end]

		if ctx.Err() != nil {
			// Parent cancelled between batches: fail the remaining
			// slots without starting them.
			for _, it := range ordered[start:] {
				results[it.index] = models.ToolExecutionResult{
					Tool: it.task.Name,
					Err:  ctx.Err(),
				}
			}
			return results
		}

		var wg sync.WaitGroup
		for _, it := range batch {
			wg.Add(1)
			go func(it indexedTask) {
				defer wg.Done()

				d.notify(ToolEvent{Tool: it.task.Name})
				res := ExecuteWithTimeout(ctx, it.task, d.toolTimeout)
				results[it.index] = res
				d.notify(ToolEvent{Tool: it.task.Name, Done: true, Result: &res})
			}(it)
		}
		wg.Wait()
	}

	return results
}

// notify delivers an event to the observer if one is set.
func (d *Dispatcher) notify(ev ToolEvent) {
	if d.observer != nil {
		d.observer(ev)
	}
}

// Concurrency returns the configured batch size.
func (d *Dispatcher) Concurrency() int {
	return d.concurrency
}

// BatchCount returns how many sequential batches n tasks produce.
func (d *Dispatcher) BatchCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + d.concurrency - 1) / d.concurrency
}
