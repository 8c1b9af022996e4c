package store

import (
	"database/sql"
	"fmt"
	"time"
)

type SessionRecord struct {
	ID          string     `json:"id"`
	Workflow    string     `json:"workflow"`
	Goal        string     `json:"goal"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) SaveSession(rec *SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, workflow, goal, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		rec.ID, rec.Workflow, rec.Goal, rec.Status)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSessionStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (s *Store) CompleteSession(id, status, result string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, result = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, result, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, goal, status, COALESCE(result, ''), started_at, completed_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ActiveSession returns the most recent session that is not in a terminal
// state, or nil.
func (s *Store) ActiveSession() (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, goal, status, COALESCE(result, ''), started_at, completed_at
		FROM sessions
		WHERE status NOT IN ('complete', 'failed', 'cancelled')
		ORDER BY started_at DESC LIMIT 1`)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	var completed sql.NullTime
	err := row.Scan(&rec.ID, &rec.Workflow, &rec.Goal, &rec.Status, &rec.Result, &rec.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return &rec, nil
}

func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.Query(`
		SELECT id, workflow, goal, status, COALESCE(result, ''), started_at, completed_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Workflow, &rec.Goal, &rec.Status, &rec.Result, &rec.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(id string) error {
	for _, q := range []string{
		`DELETE FROM checkpoints WHERE session_id = ?`,
		`DELETE FROM error_log WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return nil
}
