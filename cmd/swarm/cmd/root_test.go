package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"explicit exit error", &ExitError{Code: ExitInterrupted, Err: errors.New("interrupted")}, ExitInterrupted},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: ExitInterrupted, Err: errors.New("x")}), ExitInterrupted},
		{"session exists", faults.New(faults.SessionExists), ExitSessionExists},
		{"invalid workflow", faults.New(faults.InvalidWorkflow), ExitInvalidArgs},
		{"invalid argument", faults.New(faults.InvalidArgument), ExitInvalidArgs},
		{"wrapped fault", fmt.Errorf("start: %w", faults.New(faults.SessionExists)), ExitSessionExists},
		{"other fault", faults.New(faults.AgentCrashed), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
