package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
	"github.com/cbriice/claude-swarm-sub001/internal/workflow"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

type Type string

const (
	TypeSessionStart  Type = "session_start"
	TypeStageComplete Type = "stage_complete"
	TypePeriodic      Type = "periodic"
	TypeBeforeRetry   Type = "before_retry"
	TypeErrorRecovery Type = "error_recovery"
	TypeManual        Type = "manual"
)

// AgentState is the per-role slice of a snapshot.
type AgentState struct {
	Role       string    `json:"role"`
	Status     string    `json:"status"` // running, idle, error, terminated
	LastActive time.Time `json:"last_active"`
	Restarts   int       `json:"restarts"`
}

// QueueSnapshot records queue depth per role at snapshot time.
type QueueSnapshot struct {
	InboxDepth  map[string]int `json:"inbox_depth"`
	OutboxDepth map[string]int `json:"outbox_depth"`
	TakenAt     time.Time      `json:"taken_at"`
}

// Snapshot is an immutable point-in-time capture of a session.
type Snapshot struct {
	Workflow        workflow.InstanceState `json:"workflow"`
	AgentStates     map[string]AgentState  `json:"agent_states"`
	Queues          QueueSnapshot          `json:"queues"`
	CompletedStages []string               `json:"completed_stages"`
	PendingStages   []string               `json:"pending_stages"`
	StageRoles      map[string]string      `json:"stage_roles"`
	Errors          []faults.SwarmError    `json:"errors"`
	RecoveryLog     []string               `json:"recovery_log"`
}

// RestorePlan tells the coordinator how to resume from a snapshot.
type RestorePlan struct {
	RestartRoles     []string
	ResumeRoles      []string
	PreserveMessages bool
	SkipStages       []string
}

// Manager persists snapshots as five independently serialized,
// zstd-compressed blobs and prunes old checkpoints per session.
type Manager struct {
	store     *store.Store
	cfg       config.CheckpointConfig
	createdBy string
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func NewManager(s *store.Store, cfg config.CheckpointConfig) (*Manager, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Manager{
		store:     s,
		cfg:       cfg,
		createdBy: "coordinator",
		enc:       enc,
		dec:       dec,
	}, nil
}

func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

func (m *Manager) pack(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return m.enc.EncodeAll(data, nil), nil
}

func (m *Manager) unpack(blob []byte, v any) error {
	if len(blob) == 0 {
		return nil
	}
	data, err := m.dec.DecodeAll(blob, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Save persists a snapshot and prunes the session's checkpoints down to
// the configured maximum.
func (m *Manager) Save(sessionID string, typ Type, snap *Snapshot, notes string) (string, error) {
	if !m.cfg.Enabled {
		return "", nil
	}

	rec := &store.CheckpointRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      string(typ),
		CreatedBy: m.createdBy,
		Notes:     notes,
	}

	var err error
	if rec.WorkflowState, err = m.pack(snap.Workflow); err != nil {
		return "", fmt.Errorf("pack workflow state: %w", err)
	}
	if rec.AgentStates, err = m.pack(snap.AgentStates); err != nil {
		return "", fmt.Errorf("pack agent states: %w", err)
	}
	if rec.QueueSnapshot, err = m.pack(snap.Queues); err != nil {
		return "", fmt.Errorf("pack queue snapshot: %w", err)
	}
	if rec.CompletedStages, err = m.pack(snap.CompletedStages); err != nil {
		return "", fmt.Errorf("pack completed stages: %w", err)
	}
	pendingBlob := struct {
		Pending    []string          `json:"pending"`
		StageRoles map[string]string `json:"stage_roles"`
	}{snap.PendingStages, snap.StageRoles}
	if rec.PendingStages, err = m.pack(pendingBlob); err != nil {
		return "", fmt.Errorf("pack pending stages: %w", err)
	}
	errBlob := struct {
		Errors      []faults.SwarmError `json:"errors"`
		RecoveryLog []string            `json:"recovery_log"`
	}{snap.Errors, snap.RecoveryLog}
	if rec.Errors, err = m.pack(errBlob); err != nil {
		return "", fmt.Errorf("pack errors: %w", err)
	}

	if err := m.store.SaveCheckpoint(rec); err != nil {
		return "", faults.New(faults.CheckpointFailed).WithSession(sessionID).WithCause(err)
	}
	if m.cfg.MaxPerRun > 0 {
		if err := m.store.PruneCheckpoints(sessionID, m.cfg.MaxPerRun); err != nil {
			slog.Warn("checkpoint prune failed", "session", sessionID, "error", err)
		}
	}

	slog.Debug("checkpoint saved", "session", sessionID, "type", typ, "id", rec.ID)
	return rec.ID, nil
}

// Load reconstructs the most recent snapshot for a session, or nil when
// the session has no checkpoints.
func (m *Manager) Load(sessionID string) (*Snapshot, *store.CheckpointRecord, error) {
	rec, err := m.store.LatestCheckpoint(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, nil
	}

	var snap Snapshot
	if err := m.unpack(rec.WorkflowState, &snap.Workflow); err != nil {
		return nil, nil, fmt.Errorf("unpack workflow state: %w", err)
	}
	if err := m.unpack(rec.AgentStates, &snap.AgentStates); err != nil {
		return nil, nil, fmt.Errorf("unpack agent states: %w", err)
	}
	if err := m.unpack(rec.QueueSnapshot, &snap.Queues); err != nil {
		return nil, nil, fmt.Errorf("unpack queue snapshot: %w", err)
	}
	if err := m.unpack(rec.CompletedStages, &snap.CompletedStages); err != nil {
		return nil, nil, fmt.Errorf("unpack completed stages: %w", err)
	}
	var pendingBlob struct {
		Pending    []string          `json:"pending"`
		StageRoles map[string]string `json:"stage_roles"`
	}
	if err := m.unpack(rec.PendingStages, &pendingBlob); err != nil {
		return nil, nil, fmt.Errorf("unpack pending stages: %w", err)
	}
	snap.PendingStages = pendingBlob.Pending
	snap.StageRoles = pendingBlob.StageRoles
	var errBlob struct {
		Errors      []faults.SwarmError `json:"errors"`
		RecoveryLog []string            `json:"recovery_log"`
	}
	if err := m.unpack(rec.Errors, &errBlob); err != nil {
		return nil, nil, fmt.Errorf("unpack errors: %w", err)
	}
	snap.Errors = errBlob.Errors
	snap.RecoveryLog = errBlob.RecoveryLog

	return &snap, rec, nil
}

// Plan derives restart/resume decisions from a snapshot. Roles last seen
// in an error or terminated state are always restarted fresh. When
// skipFailed is set, stages implicated in the most recent unrecovered
// error are skipped on resume.
func Plan(snap *Snapshot, skipFailed bool) RestorePlan {
	plan := RestorePlan{PreserveMessages: true}

	for role, st := range snap.AgentStates {
		switch st.Status {
		case "error", "terminated":
			plan.RestartRoles = append(plan.RestartRoles, role)
		default:
			plan.ResumeRoles = append(plan.ResumeRoles, role)
		}
	}

	if skipFailed {
		var latest *faults.SwarmError
		for n := len(snap.Errors) - 1; n >= 0; n-- {
			if !snap.Errors[n].Recovered {
				latest = &snap.Errors[n]
				break
			}
		}
		if latest != nil && latest.AgentRole != "" {
			for _, stage := range snap.PendingStages {
				if snap.StageRoles[stage] == latest.AgentRole {
					plan.SkipStages = append(plan.SkipStages, stage)
				}
			}
		}
	}

	return plan
}
