package workflow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

// RoleStats counts a role's bus traffic, folded into the final summary.
type RoleStats struct {
	Role     string `json:"role"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
}

// Result is the synthesized outcome of a workflow instance.
type Result struct {
	Success     bool               `json:"success"`
	Summary     string             `json:"summary"`
	Steps       []StepRecord       `json:"steps"`
	Stats       []RoleStats        `json:"stats"`
	Degradation faults.Degradation `json:"degradation"`
}

// Synthesize folds the step history and per-role message counts into a
// single success flag and a human-readable summary.
func (i *Instance) Synthesize(stats []RoleStats, deg faults.Degradation) Result {
	history := i.History()

	completed, partial, failed, skipped := 0, 0, 0, 0
	for _, rec := range history {
		switch rec.Status {
		case StepComplete:
			completed++
		case StepPartial:
			partial++
		case StepFailed:
			failed++
		case StepSkipped:
			skipped++
		}
	}

	success := i.IsComplete() && failed == 0 && deg.Level != faults.DegradationFailed

	var sb strings.Builder
	if success {
		fmt.Fprintf(&sb, "Workflow %s completed: %d steps done", i.template.Name, completed)
	} else {
		fmt.Fprintf(&sb, "Workflow %s finished with problems: %d done, %d failed", i.template.Name, completed, failed)
	}
	if partial > 0 {
		fmt.Fprintf(&sb, ", %d partial", partial)
	}
	if skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", skipped)
	}
	sb.WriteString(".")

	for _, rec := range history {
		fmt.Fprintf(&sb, "\n- %s: %s", rec.StepID, rec.Status)
		if rec.Summary != "" {
			fmt.Fprintf(&sb, " (%s)", firstLine(rec.Summary))
		}
	}
	for _, st := range stats {
		fmt.Fprintf(&sb, "\n%s: %d sent, %d received", st.Role, st.Sent, st.Received)
	}
	if deg.Level != faults.DegradationFull {
		fmt.Fprintf(&sb, "\nDegraded to %s; unavailable roles: %s",
			deg.Level, strings.Join(deg.UnavailableRoles, ", "))
	}

	return Result{
		Success:     success,
		Summary:     sb.String(),
		Steps:       history,
		Stats:       stats,
		Degradation: deg,
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
