package models

import "time"

// ApprovalDecision is the terminal outcome of an approval request.
// Set exactly once; a request with a nil decision is pending.
type ApprovalDecision struct {
	// Approved indicates whether the operation may proceed.
	Approved bool `json:"approved"`
	// Reason provides context for rejections.
	Reason string `json:"reason,omitempty"`
	// DecidedAt is when the decision was recorded.
	DecidedAt time.Time `json:"decided_at"`
}

// ApprovalRequest represents a destructive tool call suspended pending
// an explicit human decision.
type ApprovalRequest struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// RunID is the workflow run that raised the request.
	RunID string `json:"run_id,omitempty"`
	// Tool is the name of the intercepted tool.
	Tool string `json:"tool"`
	// Input is a snapshot of the tool input at request time.
	Input map[string]any `json:"input,omitempty"`
	// Reason is the human-readable explanation for why approval is needed.
	Reason string `json:"reason"`
	// CreatedAt is when the request was raised.
	CreatedAt time.Time `json:"created_at"`
	// Decision is the terminal outcome, nil while pending.
	Decision *ApprovalDecision `json:"decision,omitempty"`
}

// Pending returns true if no terminal decision has been recorded.
func (r *ApprovalRequest) Pending() bool {
	return r.Decision == nil
}
