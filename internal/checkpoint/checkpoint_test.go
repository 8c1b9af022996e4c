package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
	"github.com/cbriice/claude-swarm-sub001/internal/workflow"
)

func newTestManager(t *testing.T, maxPerRun int) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m, err := NewManager(s, config.CheckpointConfig{Enabled: true, MaxPerRun: maxPerRun})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, s
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Workflow: workflow.InstanceState{
			SessionID: "s1",
			Template:  "feature",
			Current:   1,
			Status:    workflow.StatusRunning,
			History: []workflow.StepRecord{
				{StepID: "design", Status: workflow.StepComplete, Summary: "the design"},
			},
			Revisions: map[string]int{"implement": 1},
			Outputs:   map[string]string{"design": "the design"},
			Warnings:  []string{"one warning"},
		},
		AgentStates: map[string]AgentState{
			"architect": {Role: "architect", Status: "idle", Restarts: 0},
			"developer": {Role: "developer", Status: "running", Restarts: 1},
		},
		Queues: QueueSnapshot{
			InboxDepth:  map[string]int{"developer": 2},
			OutboxDepth: map[string]int{"architect": 1},
			TakenAt:     time.Now().UTC(),
		},
		CompletedStages: []string{"design"},
		PendingStages:   []string{"implement", "review"},
		StageRoles:      map[string]string{"design": "architect", "implement": "developer", "review": "reviewer"},
		Errors:          []faults.SwarmError{*faults.New(faults.AgentCrashed).WithRole("developer")},
		RecoveryLog:     []string{"restarted developer"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, 10)
	want := sampleSnapshot()

	id, err := m.Save("s1", TypeStageComplete, want, "after design")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id == "" {
		t.Fatal("expected checkpoint id")
	}

	got, rec, err := m.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot")
	}
	if rec.Type != string(TypeStageComplete) || rec.Notes != "after design" {
		t.Errorf("record metadata lost: %+v", rec)
	}

	if got.Workflow.Current != 1 || got.Workflow.Template != "feature" {
		t.Errorf("workflow state lost: %+v", got.Workflow)
	}
	if got.Workflow.Revisions["implement"] != 1 {
		t.Errorf("revisions lost: %v", got.Workflow.Revisions)
	}
	if got.AgentStates["developer"].Restarts != 1 {
		t.Errorf("agent states lost: %+v", got.AgentStates)
	}
	if got.Queues.InboxDepth["developer"] != 2 {
		t.Errorf("queue snapshot lost: %+v", got.Queues)
	}
	if len(got.CompletedStages) != 1 || got.CompletedStages[0] != "design" {
		t.Errorf("completed stages lost: %v", got.CompletedStages)
	}
	if len(got.PendingStages) != 2 {
		t.Errorf("pending stages lost: %v", got.PendingStages)
	}
	if got.StageRoles["review"] != "reviewer" {
		t.Errorf("stage roles lost: %v", got.StageRoles)
	}
	if len(got.Errors) != 1 || got.Errors[0].Code != faults.AgentCrashed {
		t.Errorf("errors lost: %+v", got.Errors)
	}
	if len(got.RecoveryLog) != 1 {
		t.Errorf("recovery log lost: %v", got.RecoveryLog)
	}
}

func TestLoadWithoutCheckpointsReturnsNil(t *testing.T) {
	m, _ := newTestManager(t, 10)

	snap, rec, err := m.Load("missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil || rec != nil {
		t.Error("expected nil snapshot for session without checkpoints")
	}
}

func TestDisabledManagerSkipsSave(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m, err := NewManager(s, config.CheckpointConfig{Enabled: false})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	id, err := m.Save("s1", TypeManual, sampleSnapshot(), "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id != "" {
		t.Error("disabled manager should not persist")
	}
	if snap, _, _ := m.Load("s1"); snap != nil {
		t.Error("nothing should have been written")
	}
}

func TestSavePrunesToMax(t *testing.T) {
	m, s := newTestManager(t, 3)

	for i := 0; i < 6; i++ {
		if _, err := m.Save("s1", TypePeriodic, sampleSnapshot(), ""); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	list, err := s.ListCheckpoints("s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 retained checkpoints, got %d", len(list))
	}
}

func TestLoadReturnsLatest(t *testing.T) {
	m, _ := newTestManager(t, 10)

	if _, err := m.Save("s1", TypeSessionStart, sampleSnapshot(), "first"); err != nil {
		t.Fatalf("save: %v", err)
	}
	later := sampleSnapshot()
	later.Workflow.Current = 2
	if _, err := m.Save("s1", TypeStageComplete, later, "second"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, rec, err := m.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Notes != "second" || got.Workflow.Current != 2 {
		t.Errorf("expected latest checkpoint, got notes=%q current=%d", rec.Notes, got.Workflow.Current)
	}
}

func TestPlanRestartsBrokenRoles(t *testing.T) {
	snap := sampleSnapshot()
	snap.AgentStates["reviewer"] = AgentState{Role: "reviewer", Status: "error"}
	snap.AgentStates["tester"] = AgentState{Role: "tester", Status: "terminated"}

	plan := Plan(snap, false)

	if !plan.PreserveMessages {
		t.Error("queue files must be preserved on resume")
	}
	restart := map[string]bool{}
	for _, r := range plan.RestartRoles {
		restart[r] = true
	}
	if !restart["reviewer"] || !restart["tester"] {
		t.Errorf("broken roles should restart, got %v", plan.RestartRoles)
	}
	if restart["architect"] || restart["developer"] {
		t.Errorf("healthy roles should resume, got %v", plan.RestartRoles)
	}
	if len(plan.SkipStages) != 0 {
		t.Errorf("no skips without skipFailed, got %v", plan.SkipStages)
	}
}

func TestPlanSkipFailedTargetsUnrecoveredRole(t *testing.T) {
	snap := sampleSnapshot()
	// developer owns the latest unrecovered error and the implement stage.
	plan := Plan(snap, true)

	if len(plan.SkipStages) != 1 || plan.SkipStages[0] != "implement" {
		t.Errorf("expected implement skipped, got %v", plan.SkipStages)
	}
}

func TestPlanSkipFailedIgnoresRecoveredErrors(t *testing.T) {
	snap := sampleSnapshot()
	snap.Errors[0].Recovered = true

	plan := Plan(snap, true)
	if len(plan.SkipStages) != 0 {
		t.Errorf("recovered errors should not trigger skips, got %v", plan.SkipStages)
	}
}
