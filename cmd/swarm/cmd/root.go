package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
)

var version = "dev"

// Exit codes, stable for scripting.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitInvalidArgs   = 2
	ExitSessionExists = 3
	ExitInterrupted   = 130
)

// ExitError carries a specific exit code up to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	switch faults.CodeOf(err) {
	case faults.SessionExists:
		return ExitSessionExists
	case faults.InvalidArgument, faults.InvalidWorkflow:
		return ExitInvalidArgs
	}
	return ExitFailure
}

var rootCmd = &cobra.Command{
	Use:           "swarm",
	Short:         "Multi-agent workflow coordinator",
	Long:          "swarm runs role-based worker sessions through staged workflows,\ncoordinating them over a durable file-backed message bus.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and installs the slog handler. When a log
// directory is configured, logs go to a file there as well as stderr.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	if cfg.Log.Dir != "" {
		if err := os.MkdirAll(cfg.Log.Dir, 0o755); err == nil {
			f, ferr := os.OpenFile(filepath.Join(cfg.Log.Dir, "swarm.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if ferr == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})
	slog.SetDefault(slog.New(handler))

	return cfg, nil
}

// openStore opens the SQLite store from config.
func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// activeSession returns the current non-terminal session or an error.
func activeSession(db *store.Store) (*store.SessionRecord, error) {
	rec, err := db.ActiveSession()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no active session")
	}
	return rec, nil
}

// activeOrLatestSession prefers the running session, falling back to the
// most recently finished one for post-mortem commands.
func activeOrLatestSession(db *store.Store) (*store.SessionRecord, error) {
	rec, err := db.ActiveSession()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	sessions, err := db.ListSessions(1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions")
	}
	return &sessions[0], nil
}

func eventsURL(cfg *config.Config) string {
	return fmt.Sprintf("nats://127.0.0.1:%d", cfg.Events.Port)
}
