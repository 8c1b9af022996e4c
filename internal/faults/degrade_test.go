package faults

import (
	"sort"
	"testing"
)

func TestDegradationLevels(t *testing.T) {
	d := NewDegradeTracker()

	if got := d.State().Level; got != DegradationFull {
		t.Fatalf("fresh tracker: expected full, got %s", got)
	}

	d.MarkUnavailable("reviewer")
	if got := d.State().Level; got != DegradationReduced {
		t.Errorf("one role lost: expected reduced, got %s", got)
	}

	d.MarkUnavailable("tester")
	if got := d.State().Level; got != DegradationMinimal {
		t.Errorf("two roles lost: expected minimal, got %s", got)
	}

	d.MarkUnavailable("developer")
	if got := d.State().Level; got != DegradationFailed {
		t.Errorf("three roles lost: expected failed, got %s", got)
	}
}

func TestCriticalRoleLossFailsImmediately(t *testing.T) {
	d := NewDegradeTracker("architect")

	d.MarkUnavailable("architect")
	if got := d.State().Level; got != DegradationFailed {
		t.Errorf("critical role lost: expected failed, got %s", got)
	}
}

func TestMarkUnavailableIsIdempotent(t *testing.T) {
	d := NewDegradeTracker()

	d.MarkUnavailable("reviewer")
	d.MarkUnavailable("reviewer")
	st := d.State()
	if len(st.UnavailableRoles) != 1 {
		t.Errorf("expected 1 unavailable role, got %v", st.UnavailableRoles)
	}
	if st.Level != DegradationReduced {
		t.Errorf("expected reduced, got %s", st.Level)
	}
}

func TestStateCarriesSkipsAndWarnings(t *testing.T) {
	d := NewDegradeTracker()

	d.MarkSkipped("review")
	d.MarkSkipped("test")
	d.AddWarning("revision limit reached on implement")

	st := d.State()
	sort.Strings(st.SkippedStages)
	if len(st.SkippedStages) != 2 || st.SkippedStages[0] != "review" {
		t.Errorf("unexpected skipped stages: %v", st.SkippedStages)
	}
	if len(st.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", st.Warnings)
	}
}

func TestCanContinue(t *testing.T) {
	d := NewDegradeTracker()

	if !d.CanContinue(New(AgentCrashed)) {
		t.Error("healthy tracker should continue past a recoverable error")
	}
	if d.CanContinue(New(PermissionDenied)) {
		t.Error("fatal errors never continue")
	}

	d.MarkUnavailable("a")
	d.MarkUnavailable("b")
	d.MarkUnavailable("c")
	if d.CanContinue(New(AgentCrashed)) {
		t.Error("failed degradation level never continues")
	}
	if d.CanContinue(nil) {
		t.Error("nil error still consults the level")
	}
}
