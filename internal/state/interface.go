// Package state provides SQLite-based persistence for rudder.
package state

import (
	"io"

	"github.com/calder-ai/rudder/pkg/models"
)

// RunStore handles workflow run persistence operations.
type RunStore interface {
	CreateRun(r *models.WorkflowRun) error
	GetRun(id string) (*models.WorkflowRun, error)
	UpdateRun(r *models.WorkflowRun) error
	ListRuns(status *models.RunStatus) ([]models.WorkflowRun, error)
	GetActiveRun() (*models.WorkflowRun, error)
}

// ApprovalStore handles approval request persistence operations.
type ApprovalStore interface {
	SaveApproval(r *models.ApprovalRequest) error
	GetApproval(id string) (*models.ApprovalRequest, error)
	ListApprovalsByRun(runID string) ([]models.ApprovalRequest, error)
}

// MessageStore handles follow-up message persistence operations.
type MessageStore interface {
	SaveMessage(m *models.QueuedMessage) error
	UpdateMessage(m *models.QueuedMessage) error
	GetMessage(id string) (*models.QueuedMessage, error)
	ListMessagesByUser(userID string) ([]models.QueuedMessage, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// This interface allows the workflow machine to work with any state
// backend without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	ApprovalStore
	MessageStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore    = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
	_ ApprovalStore = (*DB)(nil)
	_ MessageStore  = (*DB)(nil)
)
