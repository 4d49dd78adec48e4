package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calder-ai/rudder/pkg/models"
)

// Approval CRUD operations

// SaveApproval inserts or replaces an approval request. Upsert keeps
// the gate's write-through simple: a decision is saved with the same
// call as the original request.
func (db *DB) SaveApproval(r *models.ApprovalRequest) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("marshal approval input: %w", err)
	}

	var approved *bool
	var decisionReason sql.NullString
	var decidedAt *string
	if r.Decision != nil {
		approved = &r.Decision.Approved
		decisionReason = sql.NullString{String: r.Decision.Reason, Valid: true}
		s := formatTime(r.Decision.DecidedAt)
		decidedAt = &s
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO approvals (id, run_id, tool, input, reason, created_at, approved, decision_reason, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RunID, r.Tool, string(input), r.Reason, formatTime(r.CreatedAt), approved, decisionReason, decidedAt)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

// GetApproval retrieves an approval request by ID. Returns nil if no
// request exists.
func (db *DB) GetApproval(id string) (*models.ApprovalRequest, error) {
	row := db.QueryRow(`
		SELECT id, run_id, tool, input, reason, created_at, approved, decision_reason, decided_at
		FROM approvals WHERE id = ?
	`, id)

	r, err := scanApproval(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return r, nil
}

// ListApprovalsByRun lists approval requests for a run, oldest first.
func (db *DB) ListApprovalsByRun(runID string) ([]models.ApprovalRequest, error) {
	rows, err := db.Query(`
		SELECT id, run_id, tool, input, reason, created_at, approved, decision_reason, decided_at
		FROM approvals WHERE run_id = ? ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var requests []models.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, nil
}

// scanApproval reads one approval row using the given scan function.
func scanApproval(scan func(dest ...any) error) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	var createdAt string
	var input, runID, reason, decisionReason sql.NullString
	var approved sql.NullBool
	var decidedAt sql.NullString

	err := scan(&r.ID, &runID, &r.Tool, &input, &reason, &createdAt, &approved, &decisionReason, &decidedAt)
	if err != nil {
		return nil, err
	}

	r.RunID = runID.String
	r.Reason = reason.String
	r.CreatedAt, _ = parseTime(createdAt)

	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &r.Input); err != nil {
			return nil, fmt.Errorf("unmarshal approval input: %w", err)
		}
	}

	if approved.Valid {
		d := &models.ApprovalDecision{
			Approved: approved.Bool,
			Reason:   decisionReason.String,
		}
		if t := parseNullableTime(decidedAt); t != nil {
			d.DecidedAt = *t
		}
		r.Decision = d
	}
	return &r, nil
}
