package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbriice/claude-swarm-sub001/internal/checkpoint"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/workflow"
)

// Run drives the monitor loop until the session reaches a terminal state
// or ctx is cancelled. It drains worker outboxes, probes liveness and
// saves periodic checkpoints on every tick.
func (c *Coordinator) Run(ctx context.Context) error {
	tick := time.NewTicker(c.cfg.Monitor.Interval)
	defer tick.Stop()

	var periodic <-chan time.Time
	if c.checkpoints != nil && c.checkpoints.Enabled() && c.cfg.Checkpoint.Interval > 0 {
		t := time.NewTicker(c.cfg.Checkpoint.Interval)
		defer t.Stop()
		periodic = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.Stop(context.Background())

		case <-periodic:
			if _, err := c.saveCheckpoint(checkpoint.TypePeriodic, ""); err != nil {
				slog.Warn("periodic checkpoint failed", "session", c.sessionID, "error", err)
			}

		case <-tick.C:
			done, err := c.tick(ctx)
			if done {
				return err
			}
		}
	}
}

// tick is one pass of the monitor loop. It returns done=true once the
// session is finished, for better or worse.
func (c *Coordinator) tick(ctx context.Context) (bool, error) {
	c.mu.Lock()
	stopAsked, killAsked := c.stopAsked, c.killAsked
	c.mu.Unlock()
	if killAsked {
		c.Kill(ctx)
		return true, nil
	}
	if stopAsked {
		return true, c.Stop(ctx)
	}

	if err := c.drainOutboxes(ctx); err != nil {
		c.fail(err.Error())
	}
	c.probeWorkers(ctx)

	c.mu.Lock()
	failReason := c.failReason
	c.mu.Unlock()

	if failReason != "" || c.inst.Status() == workflow.StatusFailed || c.inst.IsComplete() {
		return true, c.finish(ctx)
	}
	return false, nil
}

// drainOutboxes picks up every new worker message and feeds it through the
// workflow router. Messages are deduplicated by ID because the skew-widened
// cutoff can return a message on two consecutive ticks.
func (c *Coordinator) drainOutboxes(ctx context.Context) error {
	c.mu.Lock()
	roles := make([]string, 0, len(c.roles))
	for role := range c.roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	c.mu.Unlock()

	for _, role := range roles {
		c.mu.Lock()
		st := c.roles[role]
		since := st.lastSeen
		c.mu.Unlock()

		for _, msg := range c.bus.NewOutboxSince(role, since) {
			c.mu.Lock()
			if c.seen[msg.ID] {
				c.mu.Unlock()
				continue
			}
			c.seen[msg.ID] = true
			if msg.Timestamp.After(st.lastSeen) {
				st.lastSeen = msg.Timestamp
			}
			st.lastActivity = time.Now()
			c.mu.Unlock()

			c.publish("message", map[string]any{
				"from": msg.From, "to": msg.To, "type": string(msg.Type), "subject": msg.Content.Subject,
			})

			before := ""
			if step := c.inst.CurrentStep(); step != nil {
				before = step.ID
			}

			routings, err := workflow.RouteMessage(c.inst, &msg)
			if err != nil {
				return fmt.Errorf("route message from %s: %w", msg.From, err)
			}
			if err := c.dispatchRoutings(routings); err != nil {
				return err
			}

			after := ""
			if step := c.inst.CurrentStep(); step != nil {
				after = step.ID
			}
			if after != before && after != "" {
				if _, err := c.saveCheckpoint(checkpoint.TypeStageComplete, "finished "+before); err != nil {
					slog.Warn("stage checkpoint failed", "session", c.sessionID, "error", err)
				}
			}
		}
	}
	return nil
}

// dispatchRoutings sends routing decisions, stepping over any step whose
// role has already been marked unavailable.
func (c *Coordinator) dispatchRoutings(routings []workflow.Routing) error {
	for n := 0; n < len(routings); n++ {
		r := routings[n]

		if c.degrade.IsUnavailable(r.To) {
			step := c.inst.CurrentStep()
			if step == nil {
				continue
			}
			c.degrade.MarkSkipped(step.ID)
			res := c.inst.SkipStep("role " + r.To + " unavailable")
			if res.NextStep != nil {
				routings = append(routings, workflow.TaskFor(c.inst, res.NextStep, r.Opts.ThreadID, res.RevisionNo))
			}
			continue
		}

		if err := c.sendRouting(r, ""); err != nil {
			return err
		}
		if err := c.inst.StartStep(); err != nil {
			slog.Debug("start step after dispatch", "error", err)
		}
	}
	return nil
}

// probeWorkers checks each running worker for liveness and activity. A dead
// process raises AGENT_CRASHED; a silent one past the timeout raises
// AGENT_TIMEOUT. Either goes through the recovery engine.
func (c *Coordinator) probeWorkers(ctx context.Context) {
	c.mu.Lock()
	type probe struct {
		role string
		st   *roleState
	}
	var probes []probe
	for role, st := range c.roles {
		if st.handle != nil && st.status == "running" {
			probes = append(probes, probe{role, st})
		}
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].role < probes[j].role })
	c.mu.Unlock()

	for _, p := range probes {
		last, alive := c.runtime.Probe(ctx, p.st.handle)

		if !alive {
			c.mu.Lock()
			p.st.status = "error"
			c.mu.Unlock()
			se := faults.New(faults.AgentCrashed).
				WithRole(p.role).WithSession(c.sessionID).WithComponent("monitor")
			c.handleFault(ctx, se)
			continue
		}

		c.mu.Lock()
		if last.After(p.st.lastActivity) {
			p.st.lastActivity = last
		}
		stale := time.Since(p.st.lastActivity) > c.cfg.Monitor.AgentTimeout
		if stale {
			// Reset so the same stall does not refire every tick while
			// recovery is still in flight.
			p.st.lastActivity = time.Now()
		}
		c.mu.Unlock()

		if stale {
			se := faults.New(faults.AgentTimeout).
				WithRole(p.role).WithSession(c.sessionID).WithComponent("monitor").
				WithContext(map[string]any{"timeout": c.cfg.Monitor.AgentTimeout.String()})
			c.handleFault(ctx, se)
		}
	}
}

// handleFault logs the error, selects a recovery plan and executes it. The
// error record is persisted before recovery runs so it survives a recovery
// that itself fails.
func (c *Coordinator) handleFault(ctx context.Context, se *faults.SwarmError) {
	plan := c.recovery.SelectStrategy(se)

	if err := c.store.LogError(se, string(plan.Strategy)); err != nil {
		slog.Warn("error log write failed", "code", se.Code, "error", err)
	}
	c.mu.Lock()
	c.errors = append(c.errors, *se)
	c.recLog = append(c.recLog, fmt.Sprintf("%s role=%s strategy=%s", se.Code, se.AgentRole, plan.Strategy))
	c.mu.Unlock()
	c.publish("error", map[string]any{
		"code": string(se.Code), "role": se.AgentRole, "strategy": string(plan.Strategy),
	})
	c.publishRole(se.AgentRole, "error", map[string]any{
		"code": string(se.Code), "strategy": string(plan.Strategy),
	})
	slog.Warn("fault detected", "code", se.Code, "role", se.AgentRole, "strategy", plan.Strategy)

	if _, err := c.saveCheckpoint(checkpoint.TypeBeforeRetry, string(se.Code)); err != nil {
		slog.Warn("pre-recovery checkpoint failed", "error", err)
	}

	if err := c.recovery.ExecuteRecovery(ctx, se, plan); err != nil {
		slog.Error("recovery failed", "code", se.Code, "role", se.AgentRole, "error", err)
		c.mu.Lock()
		if rec := faults.As(err); rec != nil {
			c.errors = append(c.errors, *rec)
		}
		c.recLog = append(c.recLog, fmt.Sprintf("%s recovery failed: %v", se.Code, err))
		c.mu.Unlock()

		if faults.CodeOf(err) == faults.MaxIterations || !c.degrade.CanContinue(se) {
			c.fail(fmt.Sprintf("unrecoverable: %v", err))
		}
		return
	}

	if err := c.store.MarkErrorRecovered(se.ID); err != nil {
		slog.Warn("mark recovered failed", "id", se.ID, "error", err)
	}
	c.mu.Lock()
	c.recLog = append(c.recLog, fmt.Sprintf("%s recovered via %s", se.Code, plan.Strategy))
	c.mu.Unlock()
	c.publish("recovered", map[string]any{"code": string(se.Code), "role": se.AgentRole})

	if _, err := c.saveCheckpoint(checkpoint.TypeErrorRecovery, string(se.Code)); err != nil {
		slog.Warn("recovery checkpoint failed", "error", err)
	}
}

// recoveryHooks binds the recovery engine's actions to the coordinator.
func (c *Coordinator) recoveryHooks() faults.Hooks {
	return faults.Hooks{
		Notify: func(ctx context.Context, se *faults.SwarmError, note string) error {
			if note == "" {
				note = se.Message
			}
			text := fmt.Sprintf("session %s: %s (%s)\n%s", c.sessionID, se.Code, se.AgentRole, note)
			return c.notifier.Send(ctx, text)
		},
		Execute: func(ctx context.Context, se *faults.SwarmError, plan faults.RecoveryPlan) error {
			switch plan.Strategy {
			case faults.StrategyRestart:
				return c.restartWorker(ctx, se.AgentRole)
			case faults.StrategySkip:
				return c.skipRole(ctx, se.AgentRole)
			case faults.StrategyRetry:
				return c.resendCurrentTask()
			case faults.StrategyAbort:
				c.fail(fmt.Sprintf("aborted: %s", se.Code))
				return nil
			default:
				return nil
			}
		},
		Cleanup: func(ctx context.Context, se *faults.SwarmError) error {
			if se.AgentRole == "" {
				return nil
			}
			return c.workspaces.Release(se.AgentRole, c.sessionID)
		},
	}
}

// restartWorker replaces a role's worker with a fresh one in the same
// workspace.
func (c *Coordinator) restartWorker(ctx context.Context, role string) error {
	if role == "" {
		return fmt.Errorf("restart with no role")
	}

	c.mu.Lock()
	st := c.roles[role]
	var handle = st.handle
	st.handle = nil
	c.mu.Unlock()

	if handle != nil {
		if err := c.runtime.Terminate(ctx, handle); err != nil {
			slog.Warn("terminate before restart failed", "role", role, "error", err)
		}
	}

	if err := c.startWorker(ctx, role); err != nil {
		return err
	}

	c.mu.Lock()
	st.restarts++
	c.mu.Unlock()
	slog.Info("worker restarted", "role", role, "restarts", st.restarts)
	return nil
}

// skipRole marks a role unavailable for the rest of the session, stops its
// worker and skips past any step it owns, dispatching the next step that
// belongs to a surviving role.
func (c *Coordinator) skipRole(ctx context.Context, role string) error {
	if role == "" {
		return fmt.Errorf("skip with no role")
	}
	c.degrade.MarkUnavailable(role)
	c.degrade.AddWarning("role " + role + " unavailable, its stages are skipped")

	c.mu.Lock()
	st := c.roles[role]
	handle := st.handle
	st.handle = nil
	st.status = "terminated"
	c.mu.Unlock()

	if handle != nil {
		if err := c.runtime.Terminate(ctx, handle); err != nil {
			slog.Warn("terminate skipped worker failed", "role", role, "error", err)
		}
	}

	skipped := false
	for {
		step := c.inst.CurrentStep()
		if step == nil || step.Role != role {
			break
		}
		c.degrade.MarkSkipped(step.ID)
		res := c.inst.SkipStep("role " + role + " unavailable")
		skipped = true
		if res.Kind == workflow.TransitionComplete {
			return nil
		}
	}

	if skipped {
		if step := c.inst.CurrentStep(); step != nil {
			return c.resendCurrentTask()
		}
	}
	return nil
}

// resendCurrentTask re-dispatches the task for the current step, used by
// retry-style recovery.
func (c *Coordinator) resendCurrentTask() error {
	step := c.inst.CurrentStep()
	if step == nil {
		return nil
	}
	r := workflow.TaskFor(c.inst, step, uuid.New().String(), c.inst.Revisions(step.ID))
	if err := c.sendRouting(r, ""); err != nil {
		return err
	}
	if err := c.inst.StartStep(); err != nil {
		slog.Debug("start step on resend", "error", err)
	}
	return nil
}

// fail marks the session for terminal failure; the monitor loop finishes it
// on the next tick.
func (c *Coordinator) fail(reason string) {
	c.mu.Lock()
	if c.failReason == "" {
		c.failReason = reason
	}
	c.mu.Unlock()
	slog.Error("session failing", "session", c.sessionID, "reason", reason)
}

// finish synthesizes the result, persists it and tears everything down.
func (c *Coordinator) finish(ctx context.Context) error {
	c.setStatus(StatusSynthesizing)

	var stats []workflow.RoleStats
	if traffic, err := c.store.RoleTraffic(c.sessionID); err != nil {
		slog.Warn("role traffic lookup failed", "error", err)
	} else {
		for _, role := range c.inst.Template().Roles() {
			t := traffic[role]
			stats = append(stats, workflow.RoleStats{Role: role, Sent: t[0], Received: t[1]})
		}
	}

	result := c.inst.Synthesize(stats, c.degrade.State())

	c.mu.Lock()
	if c.failReason != "" {
		result.Success = false
		result.Summary = c.failReason + "\n" + result.Summary
	}
	c.result = &result
	c.mu.Unlock()

	c.teardownWorkers(ctx)

	final := StatusComplete
	if !result.Success {
		final = StatusFailed
	}
	if err := c.store.CompleteSession(c.sessionID, string(final), result.Summary); err != nil {
		slog.Warn("complete session write failed", "error", err)
	}
	if _, err := c.saveCheckpoint(checkpoint.TypeManual, "session finished"); err != nil {
		slog.Warn("final checkpoint failed", "error", err)
	}

	c.mu.Lock()
	c.status = final
	c.mu.Unlock()
	c.publish("session_finished", map[string]any{"success": result.Success})
	if err := c.notifier.Send(ctx, fmt.Sprintf("session %s finished: %s\n%s", c.sessionID, final, firstLines(result.Summary, 6))); err != nil {
		slog.Warn("finish notification failed", "error", err)
	}
	slog.Info("session finished", "session", c.sessionID, "status", final, "success", result.Success)

	if !result.Success {
		return fmt.Errorf("session %s failed", c.sessionID)
	}
	return nil
}

func firstLines(s string, n int) string {
	out := s
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[:i]
			}
		}
	}
	return out
}
