package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

type ErrorRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	Details     string    `json:"details,omitempty"`
	Component   string    `json:"component,omitempty"`
	AgentRole   string    `json:"agent_role,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Recovered   bool      `json:"recovered"`
	Strategy    string    `json:"strategy,omitempty"`
	Context     string    `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LogError persists a SwarmError before any recovery runs, so the record
// survives even if recovery itself fails. The context was already
// sanitized by the error factory.
func (s *Store) LogError(err *faults.SwarmError, strategy string) error {
	var ctx string
	if err.Context != nil {
		if data, merr := json.Marshal(err.Context); merr == nil {
			ctx = string(data)
		}
	}
	var details string
	if cause := err.Unwrap(); cause != nil {
		details = cause.Error()
	}

	_, dberr := s.db.Exec(`
		INSERT INTO error_log (id, session_id, code, category, severity, message,
			details, component, agent_role, recoverable, recovered, strategy, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		err.ID, err.SessionID, string(err.Code), string(err.Category), string(err.Severity),
		err.Message, details, err.Component, err.AgentRole, err.Recoverable, err.Recovered, strategy, ctx)
	if dberr != nil {
		return fmt.Errorf("log error: %w", dberr)
	}
	return nil
}

func (s *Store) MarkErrorRecovered(id string) error {
	_, err := s.db.Exec(`UPDATE error_log SET recovered = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark error recovered: %w", err)
	}
	return nil
}

func (s *Store) ListErrors(sessionID string, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), code, category, severity, COALESCE(message, ''),
		       COALESCE(details, ''), COALESCE(component, ''), COALESCE(agent_role, ''),
		       recoverable, recovered, COALESCE(strategy, ''), COALESCE(context, ''), created_at
		FROM error_log WHERE session_id = ?
		ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var rec ErrorRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Code, &rec.Category, &rec.Severity,
			&rec.Message, &rec.Details, &rec.Component, &rec.AgentRole,
			&rec.Recoverable, &rec.Recovered, &rec.Strategy, &rec.Context, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
