package faults

import (
	"context"
	"errors"
	"testing"
)

func crashError(role string) *SwarmError {
	return New(AgentCrashed).WithRole(role).WithSession("s1")
}

func TestCrashCountEscalatesToSkip(t *testing.T) {
	r := NewRecovery(RecoveryConfig{CrashesBeforeSkip: 3}, Hooks{})

	for i := 1; i <= 2; i++ {
		plan := r.SelectStrategy(crashError("developer"))
		if plan.Strategy != StrategyRestart {
			t.Errorf("crash %d: expected restart, got %s", i, plan.Strategy)
		}
	}

	plan := r.SelectStrategy(crashError("developer"))
	if plan.Strategy != StrategySkip {
		t.Errorf("crash 3: expected skip, got %s", plan.Strategy)
	}
	if r.CrashCount(AgentCrashed, "developer") != 3 {
		t.Errorf("expected crash count 3, got %d", r.CrashCount(AgentCrashed, "developer"))
	}
}

func TestCrashCountsAreScopedPerRole(t *testing.T) {
	r := NewRecovery(RecoveryConfig{CrashesBeforeSkip: 2}, Hooks{})

	r.SelectStrategy(crashError("developer"))
	r.SelectStrategy(crashError("developer"))

	// A different role starts fresh.
	plan := r.SelectStrategy(crashError("reviewer"))
	if plan.Strategy != StrategyRestart {
		t.Errorf("expected restart for fresh role, got %s", plan.Strategy)
	}
}

func TestStrategyTable(t *testing.T) {
	tests := []struct {
		code Code
		want Strategy
	}{
		{AgentTimeout, StrategyRestart},
		{AgentInvalidOutput, StrategyRetry},
		{RateLimited, StrategyRetry},
		{WorkspaceProvisionFailed, StrategyRetry},
		{PermissionDenied, StrategyAbort},
	}

	for _, tt := range tests {
		r := NewRecovery(RecoveryConfig{}, Hooks{})
		plan := r.SelectStrategy(New(tt.code).WithRole("developer"))
		if plan.Strategy != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.code, tt.want, plan.Strategy)
		}
	}
}

func TestDefaultPlanFromFlags(t *testing.T) {
	r := NewRecovery(RecoveryConfig{}, Hooks{})

	// No rule for these codes; plan falls back to the error's flags.
	if plan := r.SelectStrategy(New(StoreFailed)); plan.Strategy != StrategyRetry {
		t.Errorf("retryable code: expected retry, got %s", plan.Strategy)
	}
	if plan := r.SelectStrategy(New(WorkflowTimeout)); plan.Strategy != StrategyEscalate {
		t.Errorf("recoverable code: expected escalate, got %s", plan.Strategy)
	}
	if plan := r.SelectStrategy(New(InvalidWorkflow)); plan.Strategy != StrategyAbort {
		t.Errorf("non-recoverable code: expected abort, got %s", plan.Strategy)
	}
}

func TestExecuteRecoveryRunsActions(t *testing.T) {
	var notified, executed bool
	hooks := Hooks{
		Notify:  func(ctx context.Context, err *SwarmError, note string) error { notified = true; return nil },
		Execute: func(ctx context.Context, err *SwarmError, plan RecoveryPlan) error { executed = true; return nil },
	}
	r := NewRecovery(RecoveryConfig{}, hooks)

	se := New(AgentTimeout).WithRole("developer")
	plan := RecoveryPlan{
		Strategy: StrategyRestart,
		Actions:  []Action{{Type: ActionNotify, Note: "n"}, {Type: ActionExecute}},
	}
	if err := r.ExecuteRecovery(context.Background(), se, plan); err != nil {
		t.Fatalf("execute recovery: %v", err)
	}
	if !notified || !executed {
		t.Errorf("expected both hooks to run: notified=%v executed=%v", notified, executed)
	}
	if !se.Recovered {
		t.Error("error should be marked recovered")
	}
}

func TestExecuteRecoveryFallsBack(t *testing.T) {
	calls := []Strategy{}
	hooks := Hooks{
		Execute: func(ctx context.Context, err *SwarmError, plan RecoveryPlan) error {
			calls = append(calls, plan.Strategy)
			if plan.Strategy == StrategyRestart {
				return errors.New("restart broken")
			}
			return nil
		},
	}
	r := NewRecovery(RecoveryConfig{}, hooks)

	se := New(AgentCrashed).WithRole("developer")
	plan := RecoveryPlan{
		Strategy: StrategyRestart,
		Actions:  []Action{{Type: ActionExecute}},
		Fallback: StrategySkip,
	}
	if err := r.ExecuteRecovery(context.Background(), se, plan); err != nil {
		t.Fatalf("expected fallback to succeed: %v", err)
	}
	if len(calls) != 2 || calls[0] != StrategyRestart || calls[1] != StrategySkip {
		t.Errorf("expected restart then skip, got %v", calls)
	}
	if !se.Recovered {
		t.Error("error should be marked recovered after fallback")
	}
}

func TestPerCodeCeiling(t *testing.T) {
	r := NewRecovery(RecoveryConfig{PerCodeCeiling: 2, TotalCeiling: 100}, Hooks{})
	plan := RecoveryPlan{Strategy: StrategyRetry}

	for i := 0; i < 2; i++ {
		if err := r.ExecuteRecovery(context.Background(), New(AgentTimeout), plan); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	err := r.ExecuteRecovery(context.Background(), New(AgentTimeout), plan)
	if CodeOf(err) != MaxIterations {
		t.Errorf("expected MAX_ITERATIONS at per-code ceiling, got %v", err)
	}

	// A different code is unaffected.
	if err := r.ExecuteRecovery(context.Background(), New(AgentCrashed), plan); err != nil {
		t.Errorf("other code should still recover: %v", err)
	}
}

func TestTotalCeiling(t *testing.T) {
	r := NewRecovery(RecoveryConfig{PerCodeCeiling: 100, TotalCeiling: 3}, Hooks{})
	plan := RecoveryPlan{Strategy: StrategyRetry}
	codes := []Code{AgentTimeout, AgentCrashed, RateLimited}

	for _, code := range codes {
		if err := r.ExecuteRecovery(context.Background(), New(code), plan); err != nil {
			t.Fatalf("%s: %v", code, err)
		}
	}

	err := r.ExecuteRecovery(context.Background(), New(AgentInvalidOutput), plan)
	if CodeOf(err) != MaxIterations {
		t.Errorf("expected MAX_ITERATIONS at session ceiling, got %v", err)
	}
}
