package models

import (
	"context"
	"time"
)

// ToolExecutor is the function a tool task runs. The context carries
// the cancellation signal; executors must poll it cooperatively where
// they can. Cancellation is advisory: an executor that ignores the
// signal keeps running, but its result is discarded by the dispatcher,
// so a logically cancelled execution can still mutate external state.
type ToolExecutor func(ctx context.Context) (any, error)

// ToolTask is a single tool call request. Each task is consumed once
// by the dispatcher; retrying a failed call means submitting a new task.
type ToolTask struct {
	// Name identifies the tool being invoked.
	Name string
	// Priority orders tasks within the dispatcher; higher runs earlier.
	Priority int
	// Input is the validated tool input, kept for approval snapshots.
	Input map[string]any
	// Run is the executor for this task.
	Run ToolExecutor
}

// ToolExecutionResult is the outcome of one tool task. Immutable once
// produced.
type ToolExecutionResult struct {
	// Tool is the name of the tool that produced this result.
	Tool string
	// Success indicates whether the execution completed without error.
	Success bool
	// Data is the tool output on success.
	Data any
	// Err holds the failure on unsuccessful executions.
	Err error
	// TokensUsed is the token consumption attributed to this execution.
	TokensUsed int64
	// Cost is the dollar cost attributed to this execution.
	Cost float64
	// FromCache indicates the result was served from a cache.
	FromCache bool
	// Retried indicates this result came from a retry submission.
	Retried bool
	// Duration is how long the execution took.
	Duration time.Duration
	// RequiresApproval indicates the call was intercepted by the
	// approval gate and must not execute until approved.
	RequiresApproval bool
}
