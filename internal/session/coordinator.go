package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/cbriice/claude-swarm-sub001/internal/checkpoint"
	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/eventbus"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
	"github.com/cbriice/claude-swarm-sub001/internal/notify"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
	"github.com/cbriice/claude-swarm-sub001/internal/vault"
	"github.com/cbriice/claude-swarm-sub001/internal/worker"
	"github.com/cbriice/claude-swarm-sub001/internal/workflow"
)

// coordinatorRole is the sender identity for coordinator-originated messages.
const coordinatorRole = "coordinator"

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusSynthesizing Status = "synthesizing"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// roleState is the coordinator's view of one worker.
type roleState struct {
	handle       *worker.Handle
	restarts     int
	lastActivity time.Time
	lastSeen     time.Time // outbox drain watermark
	status       string    // running, idle, error, terminated
}

// Coordinator owns one session: it starts the workers, drains their
// outboxes, drives the workflow state machine, recovers from faults and
// synthesizes the final result. One coordinator per session.
type Coordinator struct {
	cfg         *config.Config
	store       *store.Store
	checkpoints *checkpoint.Manager
	events      *eventbus.Client
	notifier    *notify.Notifier
	runtime     worker.Runtime
	workspaces  *worker.Workspaces
	vault       *vault.Vault

	mu         sync.Mutex
	sessionID  string
	goal       string
	status     Status
	startedAt  time.Time
	bus        *msgbus.FileBus
	inst       *workflow.Instance
	recovery   *faults.Recovery
	degrade    *faults.DegradeTracker
	breaker    *faults.CircuitBreaker
	roles      map[string]*roleState
	seen       map[string]bool // processed outbox message IDs
	errors     []faults.SwarmError
	recLog     []string
	failReason string
	stopAsked  bool
	killAsked  bool
	result     *workflow.Result
}

type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Checkpoints *checkpoint.Manager
	Events      *eventbus.Client
	Notifier    *notify.Notifier
	Runtime     worker.Runtime
	Workspaces  *worker.Workspaces
	Vault       *vault.Vault
}

func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		cfg:         d.Config,
		store:       d.Store,
		checkpoints: d.Checkpoints,
		events:      d.Events,
		notifier:    d.Notifier,
		runtime:     d.Runtime,
		workspaces:  d.Workspaces,
		vault:       d.Vault,
		status:      StatusInitializing,
		breaker: faults.NewBreaker("worker-start", faults.BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
		roles: make(map[string]*roleState),
		seen:  make(map[string]bool),
	}
}

// busArchiver persists every bus message to the store as it is sent.
type busArchiver struct {
	store     *store.Store
	sessionID string
}

func (a busArchiver) ArchiveMessage(m *msgbus.Message) error {
	return a.store.SaveMessage(&store.ArchivedMessage{
		ID:        m.ID,
		SessionID: a.sessionID,
		ThreadID:  m.ThreadID,
		Sender:    m.From,
		Recipient: m.To,
		Type:      string(m.Type),
		Priority:  string(m.Priority),
		Subject:   m.Content.Subject,
		Body:      m.Content.Body,
		CreatedAt: m.Timestamp,
	})
}

// Start creates the session, provisions workers and dispatches the first
// task. It fails with SESSION_EXISTS if another session is still active.
func (c *Coordinator) Start(ctx context.Context, workflowName, goal string) error {
	if strings.TrimSpace(goal) == "" {
		return faults.New(faults.InvalidArgument).
			WithMessage("goal must not be empty").
			WithComponent("coordinator")
	}

	active, err := c.store.ActiveSession()
	if err != nil {
		return fmt.Errorf("check active session: %w", err)
	}
	if active != nil {
		return faults.New(faults.SessionExists).
			WithComponent("coordinator").
			WithContext(map[string]any{"active_session": active.ID})
	}

	templates, err := workflow.LoadTemplates(filepath.Join("config", "workflows"))
	if err != nil {
		return err
	}
	tmpl, ok := templates[workflowName]
	if !ok {
		return faults.New(faults.InvalidWorkflow).
			WithMessage(fmt.Sprintf("unknown workflow %q", workflowName)).
			WithComponent("coordinator")
	}
	if err := tmpl.Validate(); err != nil {
		return faults.New(faults.InvalidWorkflow).WithCause(err).WithComponent("coordinator")
	}

	c.mu.Lock()
	c.sessionID = uuid.New().String()
	c.goal = goal
	c.startedAt = time.Now()
	c.inst = workflow.NewInstance(c.sessionID, tmpl)
	// The first step's role seeds everything downstream; losing it fails
	// the session regardless of how many other roles survive.
	c.degrade = faults.NewDegradeTracker(tmpl.Steps[0].Role)
	c.recovery = faults.NewRecovery(faults.RecoveryConfig{
		CrashesBeforeSkip: c.cfg.Worker.CrashesSkip,
	}, c.recoveryHooks())
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.store.SaveSession(&store.SessionRecord{
		ID:       sessionID,
		Workflow: workflowName,
		Goal:     goal,
		Status:   string(StatusInitializing),
	}); err != nil {
		return err
	}

	base := filepath.Join(c.cfg.Bus.BasePath, sessionID)
	bus, err := msgbus.New(base, tmpl.Roles(), c.cfg.Bus)
	if err != nil {
		return err
	}
	bus.SetArchiver(busArchiver{store: c.store, sessionID: sessionID})
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()

	now := time.Now()
	for _, role := range tmpl.Roles() {
		c.mu.Lock()
		c.roles[role] = &roleState{lastActivity: now, lastSeen: now, status: "idle"}
		c.mu.Unlock()

		if err := c.startWorker(ctx, role); err != nil {
			c.teardownWorkers(ctx)
			c.fail(fmt.Sprintf("worker start failed for %s", role))
			return err
		}
	}

	if _, err := c.saveCheckpoint(checkpoint.TypeSessionStart, "session started"); err != nil {
		slog.Warn("initial checkpoint failed", "session", sessionID, "error", err)
	}

	if err := c.inst.StartStep(); err != nil {
		return err
	}
	first := c.inst.CurrentStep()
	if err := c.sendRouting(workflow.TaskFor(c.inst, first, uuid.New().String(), 0), goal); err != nil {
		return err
	}

	c.setStatus(StatusRunning)
	c.listenControl()
	c.publish("session_started", map[string]any{"workflow": workflowName, "goal": goal})
	slog.Info("session started", "session", sessionID, "workflow", workflowName, "roles", tmpl.Roles())
	return nil
}

// startWorker provisions a workspace and launches the role's worker. The
// workspace provision is retried with backoff; the launch itself goes
// through the shared circuit breaker so a broken runtime stops being
// hammered after a few consecutive failures.
func (c *Coordinator) startWorker(ctx context.Context, role string) error {
	retryCfg := faults.RetryConfig{
		MaxRetries:    c.cfg.Retry.MaxRetries,
		InitialDelay:  c.cfg.Retry.InitialDelay,
		MaxDelay:      c.cfg.Retry.MaxDelay,
		Multiplier:    c.cfg.Retry.Multiplier,
		JitterPercent: c.cfg.Retry.JitterPercent,
		RetryOn:       []faults.Code{faults.WorkspaceProvisionFailed},
	}

	res := faults.WithRetry(ctx, "provision workspace", retryCfg, func(ctx context.Context) (any, error) {
		dir, err := c.workspaces.Provision(role, c.sessionID)
		if err != nil {
			return nil, faults.New(faults.WorkspaceProvisionFailed).
				WithRole(role).WithSession(c.sessionID).WithCause(err)
		}
		return dir, nil
	})
	if !res.Success {
		if n := len(res.Errors); n > 0 {
			return res.Errors[n-1]
		}
		return faults.New(faults.WorkspaceProvisionFailed).WithRole(role).WithSession(c.sessionID)
	}
	workdir := res.Result.(string)

	env, err := c.secretEnv()
	if err != nil {
		slog.Warn("secret injection failed, starting worker without credentials", "role", role, "error", err)
		env = nil
	}

	var handle *worker.Handle
	err = c.breaker.Execute(func() error {
		var startErr error
		handle, startErr = c.runtime.Start(ctx, worker.StartOpts{
			Role:      role,
			SessionID: c.sessionID,
			Workdir:   workdir,
			Env:       env,
			EventsURL: c.eventsURL(),
		})
		return startErr
	})
	if err != nil {
		if se := faults.As(err); se != nil {
			return se.WithRole(role).WithSession(c.sessionID)
		}
		return faults.New(faults.WorkerStartFailed).
			WithRole(role).WithSession(c.sessionID).WithCause(err)
	}

	c.mu.Lock()
	st := c.roles[role]
	if st == nil {
		st = &roleState{lastSeen: time.Now()}
		c.roles[role] = st
	}
	st.handle = handle
	st.status = "running"
	st.lastActivity = time.Now()
	c.mu.Unlock()

	c.publish("worker_started", map[string]any{"role": role})
	return nil
}

// secretEnv decrypts every stored secret into an env map for workers.
// Without a vault the map is empty and workers run credential-free.
func (c *Coordinator) secretEnv() (map[string]string, error) {
	if c.vault == nil {
		return nil, nil
	}
	names, err := c.store.ListSecretNames()
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(names))
	for _, name := range names {
		sec, err := c.store.GetSecret(name)
		if err != nil {
			return nil, err
		}
		if sec == nil {
			continue
		}
		plaintext, err := c.vault.Open(sec.Value, sec.Nonce)
		if err != nil {
			return nil, fmt.Errorf("open secret %s: %w", name, err)
		}
		env[name] = string(plaintext)
	}
	return env, nil
}

func (c *Coordinator) eventsURL() string {
	if c.events == nil {
		return ""
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", c.cfg.Events.Port)
}

// sendRouting dispatches one routing decision on the bus. The session goal
// is prepended to first tasks so workers always know what they are building.
func (c *Coordinator) sendRouting(r workflow.Routing, goal string) error {
	if goal != "" {
		r.Content.Body = fmt.Sprintf("## goal\n\n%s\n\n%s", goal, r.Content.Body)
	}
	if r.Opts.ThreadID == "" {
		r.Opts.ThreadID = uuid.New().String()
	}
	_, err := c.bus.Send(coordinatorRole, r.To, r.Type, r.Priority, r.Content, r.Opts)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", r.To, err)
	}
	c.publish("task_dispatched", map[string]any{"to": r.To, "type": string(r.Type), "subject": r.Content.Subject})
	c.publishRole(r.To, "task_dispatched", map[string]any{"type": string(r.Type), "subject": r.Content.Subject})
	return nil
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		if err := c.store.UpdateSessionStatus(sessionID, string(s)); err != nil {
			slog.Warn("session status update failed", "session", sessionID, "status", s, "error", err)
		}
	}
}

// ControlCommand is the payload of the session control topic.
type ControlCommand struct {
	Command string `json:"command"` // "stop" or "kill"
}

// listenControl subscribes to the session's control topic so stop and kill
// issued from another process reach the monitor loop.
func (c *Coordinator) listenControl() {
	if c.events == nil {
		return
	}
	_, err := c.events.Subscribe(eventbus.TopicSessionControl(c.sessionID), func(msg *nats.Msg) {
		var cmd ControlCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			slog.Warn("invalid control command", "error", err)
			return
		}
		c.mu.Lock()
		switch cmd.Command {
		case "stop":
			c.stopAsked = true
		case "kill":
			c.killAsked = true
		}
		c.mu.Unlock()
		slog.Info("control command received", "command", cmd.Command)
	})
	if err != nil {
		slog.Warn("control subscription failed", "error", err)
	}
}

// publish emits telemetry. Coordination never depends on it; failures are
// logged at debug and dropped.
func (c *Coordinator) publish(eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishEvent(c.sessionID, eventType, data); err != nil {
		slog.Debug("event publish failed", "type", eventType, "error", err)
	}
}

func (c *Coordinator) publishRole(role, eventType string, data map[string]any) {
	if c.events == nil || role == "" {
		return
	}
	if err := c.events.PublishRoleEvent(c.sessionID, role, eventType, data); err != nil {
		slog.Debug("role event publish failed", "role", role, "type", eventType, "error", err)
	}
}

// snapshot captures the full session state for a checkpoint.
func (c *Coordinator) snapshot() *checkpoint.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents := make(map[string]checkpoint.AgentState, len(c.roles))
	inbox := make(map[string]int, len(c.roles))
	outbox := make(map[string]int, len(c.roles))
	for role, st := range c.roles {
		agents[role] = checkpoint.AgentState{
			Role:       role,
			Status:     st.status,
			LastActive: st.lastActivity,
			Restarts:   st.restarts,
		}
		if c.bus != nil {
			inbox[role] = len(c.bus.ReadInbox(role))
			outbox[role] = len(c.bus.ReadOutbox(role))
		}
	}

	state := c.inst.State()
	done := make(map[string]bool)
	for _, rec := range state.History {
		if rec.Status == workflow.StepComplete || rec.Status == workflow.StepPartial || rec.Status == workflow.StepSkipped {
			done[rec.StepID] = true
		}
	}
	var completed, pending []string
	stageRoles := make(map[string]string)
	for _, step := range c.inst.Template().Steps {
		stageRoles[step.ID] = step.Role
		if done[step.ID] {
			completed = append(completed, step.ID)
		} else {
			pending = append(pending, step.ID)
		}
	}

	return &checkpoint.Snapshot{
		Workflow:        state,
		AgentStates:     agents,
		Queues:          checkpoint.QueueSnapshot{InboxDepth: inbox, OutboxDepth: outbox, TakenAt: time.Now()},
		CompletedStages: completed,
		PendingStages:   pending,
		StageRoles:      stageRoles,
		Errors:          append([]faults.SwarmError(nil), c.errors...),
		RecoveryLog:     append([]string(nil), c.recLog...),
	}
}

func (c *Coordinator) saveCheckpoint(typ checkpoint.Type, notes string) (string, error) {
	if c.checkpoints == nil || !c.checkpoints.Enabled() {
		return "", nil
	}
	return c.checkpoints.Save(c.sessionID, typ, c.snapshot(), notes)
}

// Stop interrupts workers, waits out the grace period, then terminates
// whatever is still running. The session ends cancelled.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return nil
	}
	handles := c.handlesLocked()
	c.mu.Unlock()

	for _, h := range handles {
		if err := c.runtime.Interrupt(ctx, h); err != nil {
			slog.Warn("worker interrupt failed", "role", h.Role, "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Monitor.GracePeriod):
	}

	c.teardownWorkers(ctx)
	if _, err := c.saveCheckpoint(checkpoint.TypeManual, "session stopped"); err != nil {
		slog.Warn("stop checkpoint failed", "error", err)
	}
	c.setStatus(StatusCancelled)
	c.publish("session_stopped", nil)
	slog.Info("session stopped", "session", c.sessionID)
	return nil
}

// Kill terminates everything immediately with no grace period.
func (c *Coordinator) Kill(ctx context.Context) {
	c.teardownWorkers(ctx)
	c.setStatus(StatusCancelled)
	c.publish("session_killed", nil)
	slog.Info("session killed", "session", c.sessionID)
}

func (c *Coordinator) teardownWorkers(ctx context.Context) {
	c.mu.Lock()
	handles := c.handlesLocked()
	for _, st := range c.roles {
		if st.handle != nil {
			st.status = "terminated"
		}
	}
	c.mu.Unlock()

	for _, h := range handles {
		if err := c.runtime.Terminate(ctx, h); err != nil {
			slog.Warn("worker terminate failed", "role", h.Role, "error", err)
		}
	}
	c.runtime.StopAll(ctx)
}

func (c *Coordinator) handlesLocked() []*worker.Handle {
	var out []*worker.Handle
	for _, st := range c.roles {
		if st.handle != nil {
			out = append(out, st.handle)
		}
	}
	return out
}

// RoleInfo is the per-role slice of a status report.
type RoleInfo struct {
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	Restarts   int       `json:"restarts"`
	LastActive time.Time `json:"last_active"`
}

// Info is the coordinator's externally visible state, served by the status
// command and the web API.
type Info struct {
	SessionID   string                `json:"session_id"`
	Workflow    string                `json:"workflow"`
	Goal        string                `json:"goal"`
	Status      Status                `json:"status"`
	CurrentStep string                `json:"current_step,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	Roles       []RoleInfo            `json:"roles"`
	History     []workflow.StepRecord `json:"history"`
	Degradation faults.Degradation    `json:"degradation"`
	Result      *workflow.Result      `json:"result,omitempty"`
}

func (c *Coordinator) Status() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		SessionID: c.sessionID,
		Goal:      c.goal,
		Status:    c.status,
		StartedAt: c.startedAt,
		Result:    c.result,
	}
	if c.inst != nil {
		info.Workflow = c.inst.Template().Name
		if step := c.inst.CurrentStep(); step != nil {
			info.CurrentStep = step.ID
		}
		info.History = c.inst.History()
	}
	if c.degrade != nil {
		info.Degradation = c.degrade.State()
	}
	for role, st := range c.roles {
		info.Roles = append(info.Roles, RoleInfo{
			Role:       role,
			Status:     st.status,
			Restarts:   st.restarts,
			LastActive: st.lastActivity,
		})
	}
	return info
}

func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
