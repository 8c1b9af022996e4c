package faults

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Strategy string

const (
	StrategyRetry      Strategy = "retry"
	StrategyRestart    Strategy = "restart"
	StrategySkip       Strategy = "skip"
	StrategySubstitute Strategy = "substitute"
	StrategyRollback   Strategy = "rollback"
	StrategyEscalate   Strategy = "escalate"
	StrategyAbort      Strategy = "abort"
)

type ActionType string

const (
	ActionWait    ActionType = "wait"
	ActionLog     ActionType = "log"
	ActionNotify  ActionType = "notify"
	ActionExecute ActionType = "execute"
	ActionCleanup ActionType = "cleanup"
)

type Action struct {
	Type ActionType
	Wait time.Duration
	Note string
}

// RecoveryPlan is selected per error occurrence and not persisted.
type RecoveryPlan struct {
	Strategy    Strategy
	Actions     []Action
	MaxAttempts int
	Fallback    Strategy
}

// Hooks supply the pluggable backends for plan actions. Any nil hook makes
// the corresponding action a no-op.
type Hooks struct {
	Notify  func(ctx context.Context, err *SwarmError, note string) error
	Execute func(ctx context.Context, err *SwarmError, plan RecoveryPlan) error
	Cleanup func(ctx context.Context, err *SwarmError) error
}

type RecoveryConfig struct {
	CrashesBeforeSkip int // AGENT_CRASHED restarts allowed per role
	PerCodeCeiling    int // max recovery attempts per error code
	TotalCeiling      int // max recovery attempts per session
}

type rule struct {
	code  Code
	match func(r *Recovery, err *SwarmError) bool
	plan  func(r *Recovery, err *SwarmError) RecoveryPlan
}

// Recovery selects and executes recovery plans. One instance per session.
type Recovery struct {
	cfg   RecoveryConfig
	hooks Hooks
	rules []rule

	mu          sync.Mutex
	crashCounts map[string]int // code|role
	attempts    map[Code]int
	total       int
}

func NewRecovery(cfg RecoveryConfig, hooks Hooks) *Recovery {
	if cfg.CrashesBeforeSkip <= 0 {
		cfg.CrashesBeforeSkip = 3
	}
	if cfg.PerCodeCeiling <= 0 {
		cfg.PerCodeCeiling = 5
	}
	if cfg.TotalCeiling <= 0 {
		cfg.TotalCeiling = 20
	}
	r := &Recovery{
		cfg:         cfg,
		hooks:       hooks,
		crashCounts: make(map[string]int),
		attempts:    make(map[Code]int),
	}
	r.rules = defaultRules()
	return r
}

func defaultRules() []rule {
	return []rule{
		{
			code: AgentCrashed,
			match: func(r *Recovery, err *SwarmError) bool {
				return r.crashCount(err.Code, err.AgentRole) < r.cfg.CrashesBeforeSkip
			},
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategyRestart,
					Actions: []Action{
						{Type: ActionLog, Note: "restarting crashed worker"},
						{Type: ActionExecute},
					},
					MaxAttempts: 2,
					Fallback:    StrategySkip,
				}
			},
		},
		{
			// Same code past the crash threshold: stop restart-looping.
			code: AgentCrashed,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategySkip,
					Actions: []Action{
						{Type: ActionLog, Note: "crash threshold reached, marking role unavailable"},
						{Type: ActionNotify, Note: "role skipped after repeated crashes"},
						{Type: ActionExecute},
					},
					MaxAttempts: 1,
				}
			},
		},
		{
			code: AgentTimeout,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategyRestart,
					Actions: []Action{
						{Type: ActionLog, Note: "worker timed out, restarting"},
						{Type: ActionExecute},
					},
					MaxAttempts: 2,
					Fallback:    StrategySkip,
				}
			},
		},
		{
			code: AgentInvalidOutput,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy:    StrategyRetry,
					Actions:     []Action{{Type: ActionExecute}},
					MaxAttempts: 2,
					Fallback:    StrategySkip,
				}
			},
		},
		{
			code: RateLimited,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategyRetry,
					Actions: []Action{
						{Type: ActionWait, Wait: 30 * time.Second},
						{Type: ActionExecute},
					},
					MaxAttempts: 3,
					Fallback:    StrategyEscalate,
				}
			},
		},
		{
			code: WorkspaceProvisionFailed,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategyRetry,
					Actions: []Action{
						{Type: ActionWait, Wait: 2 * time.Second},
						{Type: ActionCleanup},
						{Type: ActionExecute},
					},
					MaxAttempts: 3,
					Fallback:    StrategyAbort,
				}
			},
		},
		{
			code: PermissionDenied,
			plan: func(r *Recovery, err *SwarmError) RecoveryPlan {
				return RecoveryPlan{
					Strategy: StrategyAbort,
					Actions: []Action{
						{Type: ActionNotify, Note: "session aborted: permission denied"},
						{Type: ActionCleanup},
					},
					MaxAttempts: 1,
				}
			},
		},
	}
}

func (r *Recovery) crashKey(code Code, role string) string {
	return string(code) + "|" + role
}

func (r *Recovery) crashCount(code Code, role string) int {
	return r.crashCounts[r.crashKey(code, role)]
}

// CrashCount reports how many times a code has been observed for a role.
func (r *Recovery) CrashCount(code Code, role string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.crashCount(code, role)
}

// SelectStrategy picks the first matching rule for an error. Occurrences of
// role-scoped agent errors are counted here, so history-sensitive predicates
// see the occurrence being selected for.
func (r *Recovery) SelectStrategy(err *SwarmError) RecoveryPlan {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err.Code == AgentCrashed && err.AgentRole != "" {
		r.crashCounts[r.crashKey(err.Code, err.AgentRole)]++
	}

	for _, rl := range r.rules {
		if rl.code != err.Code {
			continue
		}
		if rl.match != nil && !rl.match(r, err) {
			continue
		}
		return rl.plan(r, err)
	}

	return defaultPlan(err)
}

// defaultPlan derives a plan from the error's own flags when no rule matches.
func defaultPlan(err *SwarmError) RecoveryPlan {
	switch {
	case err.Retryable:
		return RecoveryPlan{
			Strategy:    StrategyRetry,
			Actions:     []Action{{Type: ActionExecute}},
			MaxAttempts: 2,
			Fallback:    StrategyEscalate,
		}
	case err.Recoverable:
		return RecoveryPlan{
			Strategy:    StrategyEscalate,
			Actions:     []Action{{Type: ActionLog, Note: "escalating unrecovered error"}, {Type: ActionNotify}},
			MaxAttempts: 1,
		}
	default:
		return RecoveryPlan{
			Strategy:    StrategyAbort,
			Actions:     []Action{{Type: ActionNotify, Note: "aborting on non-recoverable error"}, {Type: ActionCleanup}},
			MaxAttempts: 1,
		}
	}
}

// ExecuteRecovery runs the plan's actions in order. Exceeding either the
// per-code or the per-session attempt ceiling fails immediately with
// MAX_ITERATIONS instead of attempting the plan.
func (r *Recovery) ExecuteRecovery(ctx context.Context, err *SwarmError, plan RecoveryPlan) error {
	r.mu.Lock()
	if r.attempts[err.Code] >= r.cfg.PerCodeCeiling {
		r.mu.Unlock()
		return New(MaxIterations).WithMessage(
			fmt.Sprintf("recovery ceiling for %s reached (%d)", err.Code, r.cfg.PerCodeCeiling)).
			WithSession(err.SessionID)
	}
	if r.total >= r.cfg.TotalCeiling {
		r.mu.Unlock()
		return New(MaxIterations).WithMessage(
			fmt.Sprintf("session recovery ceiling reached (%d)", r.cfg.TotalCeiling)).
			WithSession(err.SessionID)
	}
	r.attempts[err.Code]++
	r.total++
	r.mu.Unlock()

	if runErr := r.runActions(ctx, err, plan); runErr != nil {
		if plan.Fallback == "" {
			return runErr
		}
		slog.Warn("recovery plan failed, trying fallback",
			"code", err.Code, "strategy", plan.Strategy, "fallback", plan.Fallback, "error", runErr)
		fb := RecoveryPlan{Strategy: plan.Fallback, Actions: []Action{{Type: ActionExecute}}, MaxAttempts: 1}
		if fbErr := r.runActions(ctx, err, fb); fbErr != nil {
			return fmt.Errorf("fallback %s failed: %w", plan.Fallback, fbErr)
		}
	}

	err.Recovered = true
	return nil
}

func (r *Recovery) runActions(ctx context.Context, err *SwarmError, plan RecoveryPlan) error {
	for _, a := range plan.Actions {
		switch a.Type {
		case ActionWait:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.Wait):
			}
		case ActionLog:
			slog.Info("recovery action", "code", err.Code, "strategy", plan.Strategy, "note", a.Note, "role", err.AgentRole)
		case ActionNotify:
			if r.hooks.Notify != nil {
				if nerr := r.hooks.Notify(ctx, err, a.Note); nerr != nil {
					return fmt.Errorf("notify action: %w", nerr)
				}
			}
		case ActionExecute:
			if r.hooks.Execute != nil {
				if xerr := r.hooks.Execute(ctx, err, plan); xerr != nil {
					return fmt.Errorf("execute action: %w", xerr)
				}
			}
		case ActionCleanup:
			if r.hooks.Cleanup != nil {
				if cerr := r.hooks.Cleanup(ctx, err); cerr != nil {
					return fmt.Errorf("cleanup action: %w", cerr)
				}
			}
		}
	}
	return nil
}
