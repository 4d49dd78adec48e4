package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	// RunStatusActive indicates the run is in progress.
	RunStatusActive RunStatus = "active"
	// RunStatusCompleted indicates the run reached commit.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a phase exhausted its retries.
	RunStatusFailed RunStatus = "failed"
	// RunStatusAbandoned indicates the run was cancelled externally.
	RunStatusAbandoned RunStatus = "abandoned"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusActive, RunStatusCompleted, RunStatusFailed, RunStatusAbandoned:
		return true
	default:
		return false
	}
}

// ToolRecord is one entry in a run's log of executed tool tasks.
type ToolRecord struct {
	// Tool is the name of the tool that ran.
	Tool string `json:"tool"`
	// Phase is the phase the tool ran in.
	Phase Phase `json:"phase"`
	// Success indicates whether the tool completed without error.
	Success bool `json:"success"`
	// Error holds the failure message for unsuccessful executions.
	Error string `json:"error,omitempty"`
	// Tokens is the token consumption attributed to this execution.
	Tokens int64 `json:"tokens"`
	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`
	// StartedAt is when the execution began.
	StartedAt time.Time `json:"started_at"`
}

// WorkflowRun tracks a single conversational run through the phase
// state machine. It is mutated only by the machine that owns it.
type WorkflowRun struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// Request is the user request that started the run.
	Request string `json:"request"`
	// Phase is the current phase.
	Phase Phase `json:"phase"`
	// Status is the lifecycle state of the run.
	Status RunStatus `json:"status"`
	// Continuations counts phase advances since the run started.
	Continuations int `json:"continuations"`
	// ErrorCount counts transitions into the error phase.
	ErrorCount int `json:"error_count"`
	// LastError holds the most recent failure message.
	LastError string `json:"last_error,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// TokensUsed is the cumulative token consumption for the run.
	TokensUsed int64 `json:"tokens_used"`
	// Cost is the cumulative cost in dollars for the run.
	Cost float64 `json:"cost"`
	// ToolLog is the ordered log of executed tool tasks.
	ToolLog []ToolRecord `json:"tool_log,omitempty"`
	// State is an open-ended bag for phase-specific data.
	State map[string]any `json:"state,omitempty"`
}

// Terminal returns true if the run has reached a terminal status.
func (r *WorkflowRun) Terminal() bool {
	return r.Status != RunStatusActive
}
