package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// Message CRUD operations

// SaveMessage persists a newly queued follow-up message.
func (db *DB) SaveMessage(m *models.QueuedMessage) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO messages (id, user_id, project_id, body, priority, status, metadata, queued_at, started_at, completed_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.ProjectID, m.Body, m.Priority, string(m.Status), string(metadata),
		formatTime(m.QueuedAt), nullableTimeString(m.StartedAt), nullableTimeString(m.CompletedAt), nullableTimeString(m.CancelledAt))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// UpdateMessage updates a message's lifecycle fields.
func (db *DB) UpdateMessage(m *models.QueuedMessage) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?, started_at = ?, completed_at = ?, cancelled_at = ?
		WHERE id = ?
	`, string(m.Status), nullableTimeString(m.StartedAt), nullableTimeString(m.CompletedAt), nullableTimeString(m.CancelledAt), m.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID. Returns nil if no message exists.
func (db *DB) GetMessage(id string) (*models.QueuedMessage, error) {
	row := db.QueryRow(`
		SELECT id, user_id, project_id, body, priority, status, metadata, queued_at, started_at, completed_at, cancelled_at
		FROM messages WHERE id = ?
	`, id)

	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessagesByUser lists a user's messages, most recently queued first.
func (db *DB) ListMessagesByUser(userID string) ([]models.QueuedMessage, error) {
	rows, err := db.Query(`
		SELECT id, user_id, project_id, body, priority, status, metadata, queued_at, started_at, completed_at, cancelled_at
		FROM messages WHERE user_id = ? ORDER BY queued_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, nil
}

// scanMessage reads one message row using the given scan function.
func scanMessage(scan func(dest ...any) error) (*models.QueuedMessage, error) {
	var m models.QueuedMessage
	var status, queuedAt string
	var projectID, metadata sql.NullString
	var startedAt, completedAt, cancelledAt sql.NullString

	err := scan(&m.ID, &m.UserID, &projectID, &m.Body, &m.Priority, &status, &metadata,
		&queuedAt, &startedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}

	m.ProjectID = projectID.String
	m.Status = models.MessageStatus(status)
	m.QueuedAt, _ = parseTime(queuedAt)
	m.StartedAt = parseNullableTime(startedAt)
	m.CompletedAt = parseNullableTime(completedAt)
	m.CancelledAt = parseNullableTime(cancelledAt)

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
	}
	return &m, nil
}

// nullableTimeString formats an optional time for SQLite storage.
func nullableTimeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
