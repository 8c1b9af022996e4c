package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
	StepPartial  StepStatus = "partial"
)

// StepRecord is one entry of the append-only step history.
type StepRecord struct {
	StepID     string         `json:"step_id"`
	Status     StepStatus     `json:"status"`
	Summary    string         `json:"summary,omitempty"`
	Verdict    msgbus.Verdict `json:"verdict,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// TransitionKind describes what a workflow transition decided.
type TransitionKind string

const (
	TransitionAdvance  TransitionKind = "advance"
	TransitionRevise   TransitionKind = "revise"
	TransitionEscalate TransitionKind = "escalate"
	TransitionComplete TransitionKind = "complete"
)

type TransitionResult struct {
	Kind       TransitionKind
	NextStep   *Step  // set for advance and revise
	Warning    string // set when an iteration bound forced an advance
	RevisionNo int    // set for revise
}

// InstanceState is the serializable execution state, used by checkpoints.
type InstanceState struct {
	SessionID string            `json:"session_id"`
	Template  string            `json:"template"`
	Current   int               `json:"current"`
	Status    Status            `json:"status"`
	History   []StepRecord      `json:"history"`
	Revisions map[string]int    `json:"revisions"`
	Outputs   map[string]string `json:"outputs"`
	Warnings  []string          `json:"warnings"`
}

// Instance is the live execution state of one template for one session.
// All mutation goes through StartStep, CompleteStep and Transition.
type Instance struct {
	mu        sync.Mutex
	sessionID string
	template  *Template
	current   int
	status    Status
	active    bool
	history   []StepRecord
	revisions map[string]int
	outputs   map[string]string
	warnings  []string
}

func NewInstance(sessionID string, t *Template) *Instance {
	return &Instance{
		sessionID: sessionID,
		template:  t,
		status:    StatusCreated,
		revisions: make(map[string]int),
		outputs:   make(map[string]string),
	}
}

// Resume rebuilds an instance from checkpointed state.
func Resume(t *Template, st InstanceState) *Instance {
	inst := NewInstance(st.SessionID, t)
	inst.current = st.Current
	inst.status = st.Status
	inst.history = append(inst.history, st.History...)
	for k, v := range st.Revisions {
		inst.revisions[k] = v
	}
	for k, v := range st.Outputs {
		inst.outputs[k] = v
	}
	inst.warnings = append(inst.warnings, st.Warnings...)
	return inst
}

func (i *Instance) SessionID() string { return i.sessionID }

func (i *Instance) Template() *Template { return i.template }

func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// CurrentStep returns the step the workflow is positioned at.
func (i *Instance) CurrentStep() *Step {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentStepLocked()
}

func (i *Instance) currentStepLocked() *Step {
	if i.current < 0 || i.current >= len(i.template.Steps) {
		return nil
	}
	return &i.template.Steps[i.current]
}

// StartStep marks the current step active.
func (i *Instance) StartStep() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	step := i.currentStepLocked()
	if step == nil {
		return fmt.Errorf("no step at position %d", i.current)
	}
	if i.active {
		return fmt.Errorf("step %s already active", step.ID)
	}
	i.active = true
	i.status = StatusRunning
	return nil
}

// CompleteStep records the active step's outcome and its output.
func (i *Instance) CompleteStep(summary string, verdict msgbus.Verdict, failed bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	step := i.currentStepLocked()
	if step == nil || !i.active {
		return fmt.Errorf("no active step to complete")
	}

	status := StepComplete
	if failed {
		status = StepFailed
	}
	i.history = append(i.history, StepRecord{
		StepID:     step.ID,
		Status:     status,
		Summary:    summary,
		Verdict:    verdict,
		FinishedAt: time.Now(),
	})
	if !failed && step.Output != "" {
		i.outputs[step.Output] = summary
	}
	i.active = false
	if failed {
		i.status = StatusFailed
	}
	return nil
}

// Transition decides the next active step after a completion. On
// NEEDS_REVISION below the producing step's iteration bound it moves back
// to that step; past the bound it records a warning, marks the cycle
// partial and advances anyway. REJECTED escalates.
func (i *Instance) Transition(verdict msgbus.Verdict) TransitionResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch verdict {
	case msgbus.VerdictRejected:
		i.status = StatusFailed
		return TransitionResult{Kind: TransitionEscalate}

	case msgbus.VerdictNeedsRevision:
		reviewStep := i.currentStepLocked()
		producer, idx := i.producerForLocked(reviewStep)
		if producer != nil {
			if i.revisions[producer.ID] < producer.MaxIterations {
				i.revisions[producer.ID]++
				i.current = idx
				return TransitionResult{
					Kind:       TransitionRevise,
					NextStep:   producer,
					RevisionNo: i.revisions[producer.ID],
				}
			}
			warning := fmt.Sprintf("step %s hit its iteration bound (%d), advancing with partial result",
				producer.ID, producer.MaxIterations)
			i.warnings = append(i.warnings, warning)
			i.history = append(i.history, StepRecord{
				StepID:     producer.ID,
				Status:     StepPartial,
				Summary:    "iteration bound exhausted",
				FinishedAt: time.Now(),
			})
			res := i.advanceLocked()
			res.Warning = warning
			return res
		}
		return i.advanceLocked()
	}

	return i.advanceLocked()
}

// SkipStep records the current step as skipped and advances past it, used
// when the responsible role has become unavailable.
func (i *Instance) SkipStep(reason string) TransitionResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	step := i.currentStepLocked()
	if step == nil {
		return TransitionResult{Kind: TransitionComplete}
	}
	i.history = append(i.history, StepRecord{
		StepID:     step.ID,
		Status:     StepSkipped,
		Summary:    reason,
		FinishedAt: time.Now(),
	})
	i.active = false
	return i.advanceLocked()
}

// advanceLocked moves to the next eligible step, skipping steps whose
// condition output is missing.
func (i *Instance) advanceLocked() TransitionResult {
	for next := i.current + 1; next < len(i.template.Steps); next++ {
		step := &i.template.Steps[next]
		if step.Condition != "" {
			if _, ok := i.outputs[step.Condition]; !ok {
				i.history = append(i.history, StepRecord{
					StepID:     step.ID,
					Status:     StepSkipped,
					Summary:    "condition " + step.Condition + " not met",
					FinishedAt: time.Now(),
				})
				continue
			}
		}
		i.current = next
		return TransitionResult{Kind: TransitionAdvance, NextStep: step}
	}

	if i.status != StatusFailed {
		i.status = StatusComplete
	}
	return TransitionResult{Kind: TransitionComplete}
}

// producerForLocked finds the step that produced the output the given step
// consumes, preferring the latest input.
func (i *Instance) producerForLocked(step *Step) (*Step, int) {
	if step == nil {
		return nil, -1
	}
	for n := len(step.Inputs) - 1; n >= 0; n-- {
		if p, idx := i.template.producerOf(step.Inputs[n]); p != nil && idx < i.current {
			return p, idx
		}
	}
	return nil, -1
}

// IsComplete is true once a terminal step finished with nothing pending
// and nothing mid-iteration.
func (i *Instance) IsComplete() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status == StatusComplete && !i.active
}

func (i *Instance) Revisions(stepID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.revisions[stepID]
}

func (i *Instance) Output(key string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.outputs[key]
	return v, ok
}

// History returns a copy of the append-only step history.
func (i *Instance) History() []StepRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]StepRecord(nil), i.history...)
}

// Warnings returns accumulated degradation warnings.
func (i *Instance) Warnings() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.warnings...)
}

// State captures the serializable execution state for checkpointing.
func (i *Instance) State() InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()

	revs := make(map[string]int, len(i.revisions))
	for k, v := range i.revisions {
		revs[k] = v
	}
	outs := make(map[string]string, len(i.outputs))
	for k, v := range i.outputs {
		outs[k] = v
	}
	return InstanceState{
		SessionID: i.sessionID,
		Template:  i.template.Name,
		Current:   i.current,
		Status:    i.status,
		History:   append([]StepRecord(nil), i.history...),
		Revisions: revs,
		Outputs:   outs,
		Warnings:  append([]string(nil), i.warnings...),
	}
}
