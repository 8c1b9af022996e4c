package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
)

const (
	labelPrefix = "swarm"
	networkName = "swarm-net"
)

// DockerRuntime runs each worker in its own container with the workspace
// bind-mounted at /workspace.
type DockerRuntime struct {
	docker *client.Client
	cfg    config.WorkerConfig

	mu      sync.Mutex
	active  map[string]string // handle ID -> container ID
	network string
}

func NewDockerRuntime(cfg config.WorkerConfig) (*DockerRuntime, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{
		docker: docker,
		cfg:    cfg,
		active: make(map[string]string),
	}, nil
}

func (r *DockerRuntime) ensureNetwork(ctx context.Context) error {
	if r.network != "" {
		return nil
	}

	_, err := r.docker.NetworkInspect(ctx, networkName, network.InspectOptions{})
	if err == nil {
		r.network = networkName
		return nil
	}

	_, err = r.docker.NetworkCreate(ctx, networkName, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("create network %s: %w", networkName, err)
	}
	r.network = networkName
	slog.Info("created docker network", "network", networkName)
	return nil
}

func (r *DockerRuntime) Start(ctx context.Context, opts StartOpts) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.cfg.MaxRunning {
		return nil, fmt.Errorf("max workers (%d) reached", r.cfg.MaxRunning)
	}

	if err := r.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	containerName := fmt.Sprintf("swarm-%s-%s", shortID(opts.SessionID), opts.Role)

	// Remove any stale container with the same name
	stopTimeout := 5
	_ = r.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &stopTimeout})
	_ = r.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	env := []string{
		fmt.Sprintf("SWARM_ROLE=%s", opts.Role),
		fmt.Sprintf("SWARM_SESSION_ID=%s", opts.SessionID),
	}
	if opts.EventsURL != "" {
		env = append(env, fmt.Sprintf("SWARM_EVENTS_URL=%s", opts.EventsURL))
	}
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerCfg := &dockercontainer.Config{
		Image:      r.cfg.Image,
		Env:        env,
		WorkingDir: "/workspace",
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".role":    opts.Role,
			labelPrefix + ".session": opts.SessionID,
		},
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds:       []string{opts.Workdir + ":/workspace"},
		NetworkMode: dockercontainer.NetworkMode(r.network),
	}

	resp, err := r.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := r.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	h := &Handle{
		ID:        containerName,
		Role:      opts.Role,
		SessionID: opts.SessionID,
		Workdir:   opts.Workdir,
		StartedAt: time.Now(),
	}
	r.active[h.ID] = resp.ID

	slog.Info("worker container started", "role", opts.Role, "container", shortID(resp.ID))
	return h, nil
}

func (r *DockerRuntime) Probe(ctx context.Context, h *Handle) (time.Time, bool) {
	r.mu.Lock()
	containerID, ok := r.active[h.ID]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	info, err := r.docker.ContainerInspect(ctx, containerID)
	if err != nil || info.State == nil || !info.State.Running {
		return time.Time{}, false
	}
	// Activity comes from the bind-mounted workspace on the host side.
	return latestMtime(h.Workdir), true
}

func (r *DockerRuntime) Interrupt(ctx context.Context, h *Handle) error {
	r.mu.Lock()
	containerID, ok := r.active[h.ID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := r.docker.ContainerKill(ctx, containerID, "SIGINT"); err != nil {
		return fmt.Errorf("interrupt worker %s: %w", h.Role, err)
	}
	return nil
}

func (r *DockerRuntime) Terminate(ctx context.Context, h *Handle) error {
	r.mu.Lock()
	containerID, ok := r.active[h.ID]
	delete(r.active, h.ID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	stopTimeout := 10
	if err := r.docker.ContainerStop(ctx, containerID, dockercontainer.StopOptions{Timeout: &stopTimeout}); err != nil {
		slog.Warn("failed to stop container gracefully", "container", shortID(containerID), "error", err)
	}
	if err := r.docker.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", shortID(containerID), "error", err)
	}

	slog.Info("worker container stopped", "role", h.Role)
	return nil
}

func (r *DockerRuntime) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for _, containerID := range r.active {
		ids = append(ids, containerID)
	}
	r.active = make(map[string]string)
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.docker.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true})
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
