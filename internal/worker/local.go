package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
)

// LocalRuntime runs workers as host subprocesses. The configured command
// is launched with the workspace as its working directory.
type LocalRuntime struct {
	cfg config.WorkerConfig

	mu     sync.Mutex
	active map[string]*exec.Cmd // handle ID -> process
}

func NewLocalRuntime(cfg config.WorkerConfig) (*LocalRuntime, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker.command is required for the local runtime")
	}
	return &LocalRuntime{
		cfg:    cfg,
		active: make(map[string]*exec.Cmd),
	}, nil
}

func (r *LocalRuntime) Start(ctx context.Context, opts StartOpts) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.cfg.MaxRunning {
		return nil, fmt.Errorf("max workers (%d) reached", r.cfg.MaxRunning)
	}

	cmd := exec.Command(r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = opts.Workdir

	env := os.Environ()
	env = append(env,
		fmt.Sprintf("SWARM_ROLE=%s", opts.Role),
		fmt.Sprintf("SWARM_SESSION_ID=%s", opts.SessionID),
	)
	if opts.EventsURL != "" {
		env = append(env, fmt.Sprintf("SWARM_EVENTS_URL=%s", opts.EventsURL))
	}
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	// Reap the process so it never zombies.
	go func() { _ = cmd.Wait() }()

	h := &Handle{
		ID:        fmt.Sprintf("local-%s-%d", opts.Role, cmd.Process.Pid),
		Role:      opts.Role,
		SessionID: opts.SessionID,
		Workdir:   opts.Workdir,
		StartedAt: time.Now(),
	}
	r.active[h.ID] = cmd

	slog.Info("worker process started", "role", opts.Role, "pid", cmd.Process.Pid)
	return h, nil
}

func (r *LocalRuntime) Probe(ctx context.Context, h *Handle) (time.Time, bool) {
	r.mu.Lock()
	cmd, ok := r.active[h.ID]
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return time.Time{}, false
	}

	// Signal 0 checks existence without delivering anything.
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return time.Time{}, false
	}
	return latestMtime(h.Workdir), true
}

func (r *LocalRuntime) Interrupt(ctx context.Context, h *Handle) error {
	r.mu.Lock()
	cmd, ok := r.active[h.ID]
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("interrupt worker %s: %w", h.Role, err)
	}
	return nil
}

func (r *LocalRuntime) Terminate(ctx context.Context, h *Handle) error {
	r.mu.Lock()
	cmd, ok := r.active[h.ID]
	delete(r.active, h.ID)
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !isProcessDone(err) {
		return fmt.Errorf("terminate worker %s: %w", h.Role, err)
	}
	slog.Info("worker process terminated", "role", h.Role)
	return nil
}

func (r *LocalRuntime) StopAll(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*exec.Cmd, 0, len(r.active))
	for _, cmd := range r.active {
		handles = append(handles, cmd)
	}
	r.active = make(map[string]*exec.Cmd)
	r.mu.Unlock()

	for _, cmd := range handles {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

func isProcessDone(err error) bool {
	return err == os.ErrProcessDone
}
