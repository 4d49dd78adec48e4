package models

import "testing"

func TestMessageStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status MessageStatus
		want   bool
	}{
		{"queued is valid", MessageQueued, true},
		{"processing is valid", MessageProcessing, true},
		{"completed is valid", MessageCompleted, true},
		{"cancelled is valid", MessageCancelled, true},
		{"empty string is invalid", MessageStatus(""), false},
		{"unknown status is invalid", MessageStatus("pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageStatus_Terminal(t *testing.T) {
	tests := []struct {
		name   string
		status MessageStatus
		want   bool
	}{
		{"queued is not terminal", MessageQueued, false},
		{"processing is not terminal", MessageProcessing, false},
		{"completed is terminal", MessageCompleted, true},
		{"cancelled is terminal", MessageCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApprovalRequest_Pending(t *testing.T) {
	req := &ApprovalRequest{ID: "a1", Tool: "delete_file"}
	if !req.Pending() {
		t.Error("request without decision should be pending")
	}

	req.Decision = &ApprovalDecision{Approved: true}
	if req.Pending() {
		t.Error("decided request should not be pending")
	}
}
