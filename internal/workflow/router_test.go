package workflow

import (
	"strings"
	"testing"

	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
)

func resultMsg(from, body, threadID string) *msgbus.Message {
	return &msgbus.Message{
		ID: "m1", From: from, To: "coordinator", Type: msgbus.TypeResult,
		Content: msgbus.Content{Subject: "result", Body: body}, ThreadID: threadID,
	}
}

func reviewMsg(from string, verdict msgbus.Verdict, body, threadID string) *msgbus.Message {
	return &msgbus.Message{
		ID: "m2", From: from, To: "coordinator", Type: msgbus.TypeReview,
		Content: msgbus.Content{
			Subject: "review", Body: body,
			Review: &msgbus.ReviewPayload{Step: "review", Verdict: verdict},
		},
		ThreadID: threadID,
	}
}

func TestResultAdvancesAndDispatchesNextTask(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	mustStart(t, inst)

	routings, err := RouteMessage(inst, resultMsg("architect", "the design", "t1"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(routings) != 1 {
		t.Fatalf("expected 1 routing, got %d", len(routings))
	}

	r := routings[0]
	if r.To != "developer" {
		t.Errorf("expected task for developer, got %s", r.To)
	}
	if r.Type != msgbus.TypeTask {
		t.Errorf("expected task type, got %s", r.Type)
	}
	if r.Opts.ThreadID != "t1" {
		t.Errorf("thread id not preserved: %q", r.Opts.ThreadID)
	}
	if !r.Opts.RequiresResponse {
		t.Error("tasks require a response")
	}
	if !strings.Contains(r.Content.Body, "the design") {
		t.Errorf("design output not folded into task body: %q", r.Content.Body)
	}
	if r.Content.Task == nil || r.Content.Task.Step != "implement" {
		t.Errorf("unexpected task payload: %+v", r.Content.Task)
	}
	if inst.CurrentStep().ID != "implement" {
		t.Errorf("instance did not advance: %s", inst.CurrentStep().ID)
	}
}

func TestResultFromWrongRoleIgnored(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	mustStart(t, inst)

	routings, err := RouteMessage(inst, resultMsg("reviewer", "noise", ""))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routings != nil {
		t.Errorf("expected no routing for off-turn result, got %v", routings)
	}
	if inst.CurrentStep().ID != "design" {
		t.Errorf("instance moved on a foreign message: %s", inst.CurrentStep().ID)
	}
}

func TestOffTurnVerdictIgnored(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))

	// Advance to the implement step and leave it active.
	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("architect", "the design", "t1")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)

	// A stray verdict from a role that does not own the current step must
	// not move the workflow back to an earlier producer.
	msg := &msgbus.Message{
		ID: "m", From: "architect", To: "coordinator", Type: msgbus.TypeFeedback,
		Content: msgbus.Content{
			Body:   "second thoughts about the design",
			Review: &msgbus.ReviewPayload{Step: "design", Verdict: msgbus.VerdictNeedsRevision},
		},
	}
	routings, err := RouteMessage(inst, msg)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routings != nil {
		t.Errorf("expected no routing for off-turn verdict, got %v", routings)
	}
	if inst.CurrentStep().ID != "implement" {
		t.Errorf("stray verdict derailed the workflow to %s", inst.CurrentStep().ID)
	}
	if n := inst.Revisions("design"); n != 0 {
		t.Errorf("revision counter bumped by off-turn verdict: %d", n)
	}

	// The active step still completes normally afterwards.
	if _, err := RouteMessage(inst, resultMsg("developer", "the code", "t2")); err != nil {
		t.Fatalf("route after stray verdict: %v", err)
	}
	if inst.CurrentStep().ID != "review" {
		t.Errorf("instance did not advance: %s", inst.CurrentStep().ID)
	}
}

func TestInformationalTypesProduceNoRouting(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	mustStart(t, inst)

	for _, typ := range []msgbus.MessageType{msgbus.TypeStatus, msgbus.TypeQuestion, msgbus.TypeFinding} {
		msg := &msgbus.Message{ID: "m", From: "architect", To: "coordinator", Type: typ}
		routings, err := RouteMessage(inst, msg)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if routings != nil {
			t.Errorf("%s: expected no routing, got %v", typ, routings)
		}
	}
}

func TestNeedsRevisionRoutesBackAtHighPriority(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))

	// Run to the review step.
	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("architect", "the design", "t1")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("developer", "the code", "t2")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)

	routings, err := RouteMessage(inst, reviewMsg("reviewer", msgbus.VerdictNeedsRevision, "fix the tests", "t3"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(routings) != 1 {
		t.Fatalf("expected 1 routing, got %d", len(routings))
	}

	r := routings[0]
	if r.To != "developer" {
		t.Errorf("revision should go to the producer, got %s", r.To)
	}
	if r.Priority != msgbus.PriorityHigh {
		t.Errorf("expected high priority, got %s", r.Priority)
	}
	if r.Opts.ThreadID != "t3" {
		t.Errorf("review thread not preserved: %q", r.Opts.ThreadID)
	}
	if r.Content.Task == nil || r.Content.Task.Revision != 1 {
		t.Errorf("expected revision 1 payload, got %+v", r.Content.Task)
	}
	if !strings.Contains(r.Content.Subject, "revise") {
		t.Errorf("subject does not announce a revision: %q", r.Content.Subject)
	}
}

func TestRejectedVerdictErrors(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))

	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("architect", "the design", "")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("developer", "the code", "")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)

	_, err := RouteMessage(inst, reviewMsg("reviewer", msgbus.VerdictRejected, "unacceptable", ""))
	if err == nil {
		t.Fatal("expected error for rejection")
	}
	if inst.Status() != StatusFailed {
		t.Errorf("expected failed instance, got %s", inst.Status())
	}
}

func TestReviewWithoutVerdictIgnored(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))
	mustStart(t, inst)

	msg := &msgbus.Message{ID: "m", From: "architect", To: "coordinator", Type: msgbus.TypeReview,
		Content: msgbus.Content{Body: "thoughts"}}
	routings, err := RouteMessage(inst, msg)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routings != nil {
		t.Errorf("expected no routing without a verdict, got %v", routings)
	}
}

func TestApprovedReviewCompletesWorkflow(t *testing.T) {
	inst := NewInstance("s1", featureTemplate(t))

	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("architect", "the design", "")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)
	if _, err := RouteMessage(inst, resultMsg("developer", "the code", "")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, inst)

	routings, err := RouteMessage(inst, reviewMsg("reviewer", msgbus.VerdictApproved, "lgtm", ""))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routings != nil {
		t.Errorf("expected no routing at completion, got %v", routings)
	}
	if !inst.IsComplete() {
		t.Error("workflow should be complete after approval")
	}
}
