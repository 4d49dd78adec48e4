package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calder-ai/rudder/pkg/models"
)

// Run CRUD operations

// CreateRun persists a new workflow run.
func (db *DB) CreateRun(r *models.WorkflowRun) error {
	toolLog, err := json.Marshal(r.ToolLog)
	if err != nil {
		return fmt.Errorf("marshal tool log: %w", err)
	}
	runState, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	_, err = db.Exec(`
		INSERT INTO runs (id, request, phase, status, continuations, error_count, last_error, started_at, completed_at, tokens_used, cost, tool_log, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Request, string(r.Phase), string(r.Status), r.Continuations, r.ErrorCount, r.LastError,
		formatTime(r.StartedAt), completedAt, r.TokensUsed, r.Cost, string(toolLog), string(runState))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil if no run exists.
func (db *DB) GetRun(id string) (*models.WorkflowRun, error) {
	row := db.QueryRow(`
		SELECT id, request, phase, status, continuations, error_count, last_error, started_at, completed_at, tokens_used, cost, tool_log, state
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun updates a run's mutable fields.
func (db *DB) UpdateRun(r *models.WorkflowRun) error {
	toolLog, err := json.Marshal(r.ToolLog)
	if err != nil {
		return fmt.Errorf("marshal tool log: %w", err)
	}
	runState, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	_, err = db.Exec(`
		UPDATE runs SET phase = ?, status = ?, continuations = ?, error_count = ?, last_error = ?, completed_at = ?, tokens_used = ?, cost = ?, tool_log = ?, state = ?
		WHERE id = ?
	`, string(r.Phase), string(r.Status), r.Continuations, r.ErrorCount, r.LastError,
		completedAt, r.TokensUsed, r.Cost, string(toolLog), string(runState), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns lists all runs, optionally filtered by status, most recent first.
func (db *DB) ListRuns(status *models.RunStatus) ([]models.WorkflowRun, error) {
	const columns = `id, request, phase, status, continuations, error_count, last_error, started_at, completed_at, tokens_used, cost, tool_log, state`

	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT `+columns+` FROM runs WHERE status = ? ORDER BY started_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT ` + columns + ` FROM runs ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, nil
}

// GetActiveRun returns the most recent active run, if any.
func (db *DB) GetActiveRun() (*models.WorkflowRun, error) {
	status := models.RunStatusActive
	runs, err := db.ListRuns(&status)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// scanRun reads one run row using the given scan function.
func scanRun(scan func(dest ...any) error) (*models.WorkflowRun, error) {
	var r models.WorkflowRun
	var phase, status, startedAt string
	var lastError, toolLog, runState sql.NullString
	var completedAt sql.NullString

	err := scan(&r.ID, &r.Request, &phase, &status, &r.Continuations, &r.ErrorCount, &lastError,
		&startedAt, &completedAt, &r.TokensUsed, &r.Cost, &toolLog, &runState)
	if err != nil {
		return nil, err
	}

	r.Phase = models.Phase(phase)
	r.Status = models.RunStatus(status)
	r.LastError = lastError.String
	r.StartedAt, _ = parseTime(startedAt)
	r.CompletedAt = parseNullableTime(completedAt)

	if toolLog.Valid && toolLog.String != "" {
		if err := json.Unmarshal([]byte(toolLog.String), &r.ToolLog); err != nil {
			return nil, fmt.Errorf("unmarshal tool log: %w", err)
		}
	}
	if runState.Valid && runState.String != "" {
		if err := json.Unmarshal([]byte(runState.String), &r.State); err != nil {
			return nil, fmt.Errorf("unmarshal run state: %w", err)
		}
	}
	return &r, nil
}
