package workflow

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
)

func TestSynthesizeSuccess(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	for _, step := range []string{"the design", "the code", "lgtm"} {
		mustStart(t, inst)
		mustComplete(t, inst, step, "")
		inst.Transition("")
	}

	stats := []RoleStats{{Role: "architect", Sent: 2, Received: 1}}
	res := inst.Synthesize(stats, faults.Degradation{Level: faults.DegradationFull})

	if !res.Success {
		t.Fatal("expected success")
	}
	if !strings.Contains(res.Summary, "completed: 3 steps done") {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "architect: 2 sent, 1 received") {
		t.Errorf("stats missing from summary: %q", res.Summary)
	}
	if strings.Contains(res.Summary, "Degraded") {
		t.Errorf("full capability should not mention degradation: %q", res.Summary)
	}
	if len(res.Steps) != 3 {
		t.Errorf("expected 3 step records, got %d", len(res.Steps))
	}
}

func TestSynthesizeFailure(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	mustStart(t, inst)
	if err := inst.CompleteStep("broke", "", true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res := inst.Synthesize(nil, faults.Degradation{Level: faults.DegradationFull})
	if res.Success {
		t.Fatal("failed step should not synthesize success")
	}
	if !strings.Contains(res.Summary, "1 failed") {
		t.Errorf("failure count missing: %q", res.Summary)
	}
}

func TestSynthesizeReportsDegradation(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	for _, step := range []string{"the design", "the code", "lgtm"} {
		mustStart(t, inst)
		mustComplete(t, inst, step, "")
		inst.Transition("")
	}

	deg := faults.Degradation{Level: faults.DegradationReduced, UnavailableRoles: []string{"tester"}}
	res := inst.Synthesize(nil, deg)

	if !res.Success {
		t.Error("reduced capability can still succeed")
	}
	if !strings.Contains(res.Summary, "Degraded to reduced") {
		t.Errorf("degradation missing from summary: %q", res.Summary)
	}

	deg.Level = faults.DegradationFailed
	res = inst.Synthesize(nil, deg)
	if res.Success {
		t.Error("failed degradation level forces failure")
	}
}

func TestSummaryTruncatesOnRuneBoundary(t *testing.T) {
	// 119 ASCII bytes followed by a multi-byte rune straddling the cutoff.
	long := strings.Repeat("x", 119) + "日本語の要約テキスト"

	inst := NewInstance("s1", featureTemplate(t))
	for _, step := range []string{long, "the code", "lgtm"} {
		mustStart(t, inst)
		mustComplete(t, inst, step, "")
		inst.Transition("")
	}

	res := inst.Synthesize(nil, faults.Degradation{Level: faults.DegradationFull})
	if !utf8.ValidString(res.Summary) {
		t.Fatalf("summary contains invalid UTF-8: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, strings.Repeat("x", 119)+"...") {
		t.Errorf("expected truncation before the split rune: %q", res.Summary)
	}
}

func TestSynthesizeCountsPartialAndSkipped(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))

	mustStart(t, inst)
	mustComplete(t, inst, "the design", "")
	inst.Transition("")

	mustStart(t, inst)
	inst.SkipStep("developer unavailable")

	mustStart(t, inst)
	mustComplete(t, inst, "reviewed what exists", msgbus.VerdictApproved)
	inst.Transition(msgbus.VerdictApproved)

	res := inst.Synthesize(nil, faults.Degradation{Level: faults.DegradationReduced, UnavailableRoles: []string{"developer"}})
	if !strings.Contains(res.Summary, "1 skipped") {
		t.Errorf("skip count missing: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "- implement: skipped") {
		t.Errorf("per-step line missing: %q", res.Summary)
	}
}
