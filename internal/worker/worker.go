package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Handle identifies one running worker process.
type Handle struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	Workdir   string    `json:"workdir"`
	StartedAt time.Time `json:"started_at"`
}

// StartOpts carries everything a runtime needs to launch a worker.
type StartOpts struct {
	Role      string
	SessionID string
	Workdir   string
	Env       map[string]string
	EventsURL string
}

// Runtime supervises worker processes. Cancellation is best-effort at
// this boundary: Interrupt asks nicely, Terminate does not.
type Runtime interface {
	Start(ctx context.Context, opts StartOpts) (*Handle, error)
	Probe(ctx context.Context, h *Handle) (lastActivity time.Time, alive bool)
	Interrupt(ctx context.Context, h *Handle) error
	Terminate(ctx context.Context, h *Handle) error
	StopAll(ctx context.Context)
}

// Workspaces provisions isolated per-role working directories.
type Workspaces struct {
	base string
}

func NewWorkspaces(base string) *Workspaces {
	return &Workspaces{base: base}
}

func (w *Workspaces) Provision(role, sessionID string) (string, error) {
	dir := filepath.Join(w.base, sessionID, role)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("provision workspace %s: %w", dir, err)
	}
	return dir, nil
}

func (w *Workspaces) Release(role, sessionID string) error {
	dir := filepath.Join(w.base, sessionID, role)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("release workspace %s: %w", dir, err)
	}
	return nil
}

// latestMtime returns the newest modification time among dir's immediate
// entries, used as the activity signal for liveness probes.
func latestMtime(dir string) time.Time {
	var latest time.Time
	entries, err := os.ReadDir(dir)
	if err != nil {
		return latest
	}
	if info, err := os.Stat(dir); err == nil {
		latest = info.ModTime()
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
