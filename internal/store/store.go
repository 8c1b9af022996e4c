package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the single durable sink for sessions, archived messages,
// checkpoints, the error log and sealed secrets. It is constructed once by
// the coordinator and passed down explicitly.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			workflow     TEXT NOT NULL,
			goal         TEXT NOT NULL,
			status       TEXT DEFAULT 'initializing',
			result       TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			thread_id  TEXT,
			sender     TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			type       TEXT NOT NULL,
			priority   TEXT,
			subject    TEXT,
			body       TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			type             TEXT NOT NULL,
			created_by       TEXT,
			workflow_state   BLOB,
			agent_states     BLOB,
			queue_snapshot   BLOB,
			completed_stages BLOB,
			pending_stages   BLOB,
			errors           BLOB,
			notes            TEXT,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS error_log (
			id          TEXT PRIMARY KEY,
			session_id  TEXT,
			code        TEXT NOT NULL,
			category    TEXT NOT NULL,
			severity    TEXT NOT NULL,
			message     TEXT,
			details     TEXT,
			component   TEXT,
			agent_role  TEXT,
			recoverable BOOLEAN DEFAULT FALSE,
			recovered   BOOLEAN DEFAULT FALSE,
			strategy    TEXT,
			context     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_errors_session ON error_log(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
