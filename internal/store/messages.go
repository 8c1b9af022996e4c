package store

import (
	"fmt"
	"time"
)

// ArchivedMessage is the durable copy of a bus message, kept for history
// and the `messages` CLI command after queue files are cleaned.
type ArchivedMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	Priority  string    `json:"priority"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveMessage(m *ArchivedMessage) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages (id, session_id, thread_id, sender, recipient, type, priority, subject, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.ThreadID, m.Sender, m.Recipient, m.Type, m.Priority, m.Subject, m.Body)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Store) GetMessages(sessionID, role string, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, COALESCE(thread_id, ''), sender, recipient, type,
		       COALESCE(priority, ''), COALESCE(subject, ''), COALESCE(body, ''), created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if role != "" {
		query += ` AND (sender = ? OR recipient = ?)`
		args = append(args, role, role)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ThreadID, &m.Sender, &m.Recipient,
			&m.Type, &m.Priority, &m.Subject, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

// RoleTraffic counts sent/received archived messages per role for a session.
func (s *Store) RoleTraffic(sessionID string) (map[string][2]int, error) {
	rows, err := s.db.Query(`
		SELECT sender, recipient FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("role traffic: %w", err)
	}
	defer rows.Close()

	traffic := make(map[string][2]int)
	for rows.Next() {
		var sender, recipient string
		if err := rows.Scan(&sender, &recipient); err != nil {
			return nil, fmt.Errorf("scan traffic: %w", err)
		}
		t := traffic[sender]
		t[0]++
		traffic[sender] = t
		t = traffic[recipient]
		t[1]++
		traffic[recipient] = t
	}
	return traffic, rows.Err()
}
