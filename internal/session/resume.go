package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/checkpoint"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
	"github.com/cbriice/claude-swarm-sub001/internal/workflow"
)

// Resume rebuilds a session from its most recent checkpoint and restarts
// the workers the restore plan calls for. Queue files are preserved, so
// unconsumed messages survive the coordinator restart. With skipFailed set,
// pending stages implicated in the latest unrecovered error are skipped.
func (c *Coordinator) Resume(ctx context.Context, sessionID string, skipFailed bool) error {
	rec, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return faults.New(faults.SessionNotFound).
			WithMessage(fmt.Sprintf("no session %s", sessionID)).
			WithComponent("coordinator")
	}

	snap, cp, err := c.checkpoints.Load(sessionID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if snap == nil {
		return faults.New(faults.SessionNotFound).
			WithMessage(fmt.Sprintf("session %s has no checkpoints to resume from", sessionID)).
			WithComponent("coordinator")
	}

	templates, err := workflow.LoadTemplates(filepath.Join("config", "workflows"))
	if err != nil {
		return err
	}
	tmpl, ok := templates[rec.Workflow]
	if !ok {
		return faults.New(faults.InvalidWorkflow).
			WithMessage(fmt.Sprintf("workflow %q no longer exists", rec.Workflow)).
			WithComponent("coordinator")
	}

	plan := checkpoint.Plan(snap, skipFailed)

	c.mu.Lock()
	c.sessionID = sessionID
	c.goal = rec.Goal
	c.startedAt = rec.StartedAt
	c.inst = workflow.Resume(tmpl, snap.Workflow)
	c.degrade = faults.NewDegradeTracker(tmpl.Steps[0].Role)
	c.recovery = faults.NewRecovery(faults.RecoveryConfig{
		CrashesBeforeSkip: c.cfg.Worker.CrashesSkip,
	}, c.recoveryHooks())
	c.errors = append([]faults.SwarmError(nil), snap.Errors...)
	c.recLog = append([]string(nil), snap.RecoveryLog...)
	c.mu.Unlock()

	base := filepath.Join(c.cfg.Bus.BasePath, sessionID)
	bus, err := msgbus.New(base, tmpl.Roles(), c.cfg.Bus)
	if err != nil {
		return err
	}
	bus.SetArchiver(busArchiver{store: c.store, sessionID: sessionID})
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()

	slog.Info("resuming session", "session", sessionID,
		"checkpoint", cp.ID, "restart", plan.RestartRoles, "resume", plan.ResumeRoles, "skip", plan.SkipStages)

	// Workers never outlive the coordinator, so resume-eligible roles are
	// relaunched fresh too; the distinction shows up in restart counters.
	now := time.Now()
	for _, role := range tmpl.Roles() {
		c.mu.Lock()
		st := &roleState{lastActivity: now, lastSeen: now, status: "idle"}
		if prev, ok := snap.AgentStates[role]; ok {
			st.restarts = prev.Restarts
		}
		c.roles[role] = st
		c.mu.Unlock()

		if err := c.startWorker(ctx, role); err != nil {
			c.teardownWorkers(ctx)
			return err
		}
	}

	skip := make(map[string]bool, len(plan.SkipStages))
	for _, stage := range plan.SkipStages {
		skip[stage] = true
	}
	for {
		step := c.inst.CurrentStep()
		if step == nil || !skip[step.ID] {
			break
		}
		c.degrade.MarkSkipped(step.ID)
		if res := c.inst.SkipStep("skipped on resume after unrecovered error"); res.Kind == workflow.TransitionComplete {
			break
		}
	}

	c.setStatus(StatusRunning)
	c.listenControl()
	if !c.inst.IsComplete() {
		if err := c.resendCurrentTask(); err != nil {
			return err
		}
	}

	if _, err := c.saveCheckpoint(checkpoint.TypeManual, "session resumed"); err != nil {
		slog.Warn("resume checkpoint failed", "error", err)
	}
	c.publish("session_resumed", map[string]any{"checkpoint": cp.ID})
	return nil
}
