package store

import (
	"fmt"
	"time"
)

// CheckpointRecord persists one checkpoint: identity plus five
// independently serialized (and compressed) state blobs.
type CheckpointRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Type            string    `json:"type"`
	CreatedBy       string    `json:"created_by"`
	WorkflowState   []byte    `json:"-"`
	AgentStates     []byte    `json:"-"`
	QueueSnapshot   []byte    `json:"-"`
	CompletedStages []byte    `json:"-"`
	PendingStages   []byte    `json:"-"`
	Errors          []byte    `json:"-"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Store) SaveCheckpoint(cp *CheckpointRecord) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	// Explicit timestamp keeps sub-second ordering for pruning.
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (id, session_id, type, created_by, workflow_state,
			agent_states, queue_snapshot, completed_stages, pending_stages, errors, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, cp.Type, cp.CreatedBy, cp.WorkflowState,
		cp.AgentStates, cp.QueueSnapshot, cp.CompletedStages, cp.PendingStages, cp.Errors, cp.Notes,
		cp.CreatedAt.Format("2006-01-02 15:04:05.000000000"))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a session, or nil.
func (s *Store) LatestCheckpoint(sessionID string) (*CheckpointRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, COALESCE(created_by, ''), workflow_state,
		       agent_states, queue_snapshot, completed_stages, pending_stages, errors,
		       COALESCE(notes, ''), created_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var cp CheckpointRecord
	if err := rows.Scan(&cp.ID, &cp.SessionID, &cp.Type, &cp.CreatedBy, &cp.WorkflowState,
		&cp.AgentStates, &cp.QueueSnapshot, &cp.CompletedStages, &cp.PendingStages, &cp.Errors,
		&cp.Notes, &cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *Store) ListCheckpoints(sessionID string) ([]CheckpointRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, COALESCE(created_by, ''), COALESCE(notes, ''), created_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		var cp CheckpointRecord
		if err := rows.Scan(&cp.ID, &cp.SessionID, &cp.Type, &cp.CreatedBy, &cp.Notes, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// PruneCheckpoints keeps only the keep most recent checkpoints for a session.
func (s *Store) PruneCheckpoints(sessionID string, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM checkpoints WHERE session_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}
