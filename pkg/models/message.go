package models

import "time"

// MessageStatus represents the lifecycle state of a queued follow-up
// message. Messages are never deleted, only marked terminal.
type MessageStatus string

const (
	// MessageQueued indicates the message is waiting to be dispatched.
	MessageQueued MessageStatus = "queued"
	// MessageProcessing indicates the poller has dispatched the message.
	MessageProcessing MessageStatus = "processing"
	// MessageCompleted indicates processing finished.
	MessageCompleted MessageStatus = "completed"
	// MessageCancelled indicates the message was cancelled before or
	// during processing.
	MessageCancelled MessageStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageQueued, MessageProcessing, MessageCompleted, MessageCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends the message lifecycle.
func (s MessageStatus) Terminal() bool {
	return s == MessageCompleted || s == MessageCancelled
}

// QueuedMessage is a follow-up user request submitted while a run is
// active, held until the current run reaches a quiescent point.
type QueuedMessage struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"user_id"`
	// ProjectID is the optional owning project.
	ProjectID string `json:"project_id,omitempty"`
	// Body is the message content.
	Body string `json:"body"`
	// Priority orders dispatch; higher is dispatched first, ties break
	// by earliest QueuedAt.
	Priority int `json:"priority"`
	// Status is the current lifecycle state.
	Status MessageStatus `json:"status"`
	// Metadata carries caller-defined context through the queue.
	Metadata map[string]string `json:"metadata,omitempty"`
	// QueuedAt is when the message was enqueued.
	QueuedAt time.Time `json:"queued_at"`
	// StartedAt is when the poller flipped the message to processing.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when processing finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// CancelledAt is when the message was cancelled.
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}
