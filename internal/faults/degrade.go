package faults

import "sync"

type DegradationLevel string

const (
	DegradationFull    DegradationLevel = "full"
	DegradationReduced DegradationLevel = "reduced"
	DegradationMinimal DegradationLevel = "minimal"
	DegradationFailed  DegradationLevel = "failed"
)

// Degradation is a snapshot of how much capability remains.
type Degradation struct {
	Level            DegradationLevel `json:"level"`
	UnavailableRoles []string         `json:"unavailable_roles"`
	SkippedStages    []string         `json:"skipped_stages"`
	Warnings         []string         `json:"warnings"`
}

// DegradeTracker accumulates role losses and recomputes the degradation
// level from them. Levels never roll back within a session.
type DegradeTracker struct {
	mu          sync.Mutex
	unavailable map[string]bool
	skipped     []string
	warnings    []string
	critical    map[string]bool
}

// NewDegradeTracker marks the listed roles as critical: losing any one of
// them fails the session outright regardless of the count rule.
func NewDegradeTracker(criticalRoles ...string) *DegradeTracker {
	crit := make(map[string]bool, len(criticalRoles))
	for _, r := range criticalRoles {
		crit[r] = true
	}
	return &DegradeTracker{
		unavailable: make(map[string]bool),
		critical:    crit,
	}
}

func (d *DegradeTracker) MarkUnavailable(role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable[role] = true
}

func (d *DegradeTracker) IsUnavailable(role string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unavailable[role]
}

func (d *DegradeTracker) MarkSkipped(stage string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skipped = append(d.skipped, stage)
}

func (d *DegradeTracker) AddWarning(w string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warnings = append(d.warnings, w)
}

// State recomputes the current degradation from accumulated history.
func (d *DegradeTracker) State() Degradation {
	d.mu.Lock()
	defer d.mu.Unlock()

	roles := make([]string, 0, len(d.unavailable))
	criticalLost := false
	for r := range d.unavailable {
		roles = append(roles, r)
		if d.critical[r] {
			criticalLost = true
		}
	}

	level := DegradationFull
	switch {
	case criticalLost || len(roles) >= 3:
		level = DegradationFailed
	case len(roles) == 2:
		level = DegradationMinimal
	case len(roles) == 1:
		level = DegradationReduced
	}

	return Degradation{
		Level:            level,
		UnavailableRoles: roles,
		SkippedStages:    append([]string(nil), d.skipped...),
		Warnings:         append([]string(nil), d.warnings...),
	}
}

// CanContinue reports whether the workflow may proceed after err. Fatal
// errors never continue; a failed degradation level never continues.
func (d *DegradeTracker) CanContinue(err *SwarmError) bool {
	if err != nil && err.Severity == SeverityFatal {
		return false
	}
	return d.State().Level != DegradationFailed
}
