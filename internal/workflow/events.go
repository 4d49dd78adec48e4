// Package workflow drives a run through its phases and coordinates the
// budget tracker, dispatcher, approval gate, and history compressor.
package workflow

import (
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventPhaseChanged indicates the run entered a new phase.
	EventPhaseChanged EventType = "phase_changed"
	// EventPhaseRetried indicates a failed phase is being retried.
	EventPhaseRetried EventType = "phase_retried"
	// EventToolCalled indicates a tool execution has started.
	EventToolCalled EventType = "tool_called"
	// EventToolSucceeded indicates a tool completed successfully.
	EventToolSucceeded EventType = "tool_succeeded"
	// EventToolFailed indicates a tool failed or timed out.
	EventToolFailed EventType = "tool_failed"
	// EventApprovalRequired indicates a destructive tool is waiting on
	// a human decision.
	EventApprovalRequired EventType = "approval_required"
	// EventApprovalResolved indicates a pending approval was decided
	// or expired.
	EventApprovalResolved EventType = "approval_resolved"
	// EventBudgetWarning indicates token usage crossed the warning
	// threshold.
	EventBudgetWarning EventType = "budget_warning"
	// EventEmergencyMode indicates token usage crossed the emergency
	// threshold and degraded policy is in effect.
	EventEmergencyMode EventType = "emergency_mode"
	// EventHistoryCompressed indicates older conversation turns were
	// folded into a synopsis.
	EventHistoryCompressed EventType = "history_compressed"
	// EventRunCompleted indicates the run reached commit.
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed indicates a phase exhausted its retries.
	EventRunFailed EventType = "run_failed"
)

// Event represents a progress event emitted by the workflow machine.
// These events feed the TUI and any other push-only subscriber.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the ID of the related run.
	RunID string
	// Phase is the phase the run was in when the event fired.
	Phase models.Phase
	// Tool is the name of the related tool, if applicable.
	Tool string
	// ApprovalID is the ID of the related approval request, if applicable.
	ApprovalID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// TokensUsed is the current total tokens used.
	TokensUsed int64
	// Cost is the current total cost.
	Cost float64
}
