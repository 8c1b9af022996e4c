package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinTemplatesAreValid(t *testing.T) {
	for name, tmpl := range builtinTemplates() {
		if err := tmpl.Validate(); err != nil {
			t.Errorf("builtin %s: %v", name, err)
		}
	}
}

func TestValidateRejectsBrokenTemplates(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    *Template
		wantErr string
	}{
		{
			name:    "no name",
			tmpl:    &Template{Steps: []Step{{ID: "a", Role: "r"}}},
			wantErr: "no name",
		},
		{
			name:    "no steps",
			tmpl:    &Template{Name: "empty"},
			wantErr: "no steps",
		},
		{
			name: "missing role",
			tmpl: &Template{Name: "t", Steps: []Step{{ID: "a"}}},
			wantErr: "missing id or role",
		},
		{
			name: "duplicate id",
			tmpl: &Template{Name: "t", Steps: []Step{
				{ID: "a", Role: "r", Output: "x"},
				{ID: "a", Role: "r"},
			}},
			wantErr: "duplicate step id",
		},
		{
			name: "unknown input",
			tmpl: &Template{Name: "t", Steps: []Step{
				{ID: "a", Role: "r", Inputs: []string{"nowhere"}},
			}},
			wantErr: "not produced by an earlier step",
		},
		{
			name: "input from later step",
			tmpl: &Template{Name: "t", Steps: []Step{
				{ID: "a", Role: "r", Inputs: []string{"late"}},
				{ID: "b", Role: "r", Output: "late"},
			}},
			wantErr: "not produced by an earlier step",
		},
		{
			name: "unknown condition",
			tmpl: &Template{Name: "t", Steps: []Step{
				{ID: "a", Role: "r", Output: "x"},
				{ID: "b", Role: "r", Condition: "nowhere"},
			}},
			wantErr: "condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGoalIsAlwaysAvailableAsInput(t *testing.T) {
	tmpl := &Template{Name: "t", Steps: []Step{{ID: "a", Role: "r", Inputs: []string{"goal"}}}}
	if err := tmpl.Validate(); err != nil {
		t.Errorf("goal input should validate: %v", err)
	}
}

func TestRolesReturnsDistinctInStepOrder(t *testing.T) {
	tmpl := builtinTemplates()["bugfix"]
	roles := tmpl.Roles()

	want := []string{"developer", "reviewer"}
	if len(roles) != len(want) {
		t.Fatalf("expected %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("role %d: expected %s, got %s", i, want[i], roles[i])
		}
	}
}

func TestLoadTemplatesMergesDirOverBuiltins(t *testing.T) {
	dir := t.TempDir()
	custom := `name: feature
description: replaced
steps:
  - id: solo
    role: developer
    inputs: [goal]
    output: result
    max_iterations: 1
`
	if err := os.WriteFile(filepath.Join(dir, "feature.yaml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	templates, err := LoadTemplates(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	feature := templates["feature"]
	if feature.Description != "replaced" {
		t.Errorf("file template should override builtin, got %q", feature.Description)
	}
	if len(feature.Steps) != 1 || feature.Steps[0].ID != "solo" {
		t.Errorf("unexpected steps: %+v", feature.Steps)
	}

	// Untouched builtins survive the merge.
	if templates["bugfix"] == nil || templates["research"] == nil {
		t.Error("builtins missing after merge")
	}
}

func TestLoadTemplatesMissingDirFallsBack(t *testing.T) {
	templates, err := LoadTemplates(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(templates) != 3 {
		t.Errorf("expected 3 builtins, got %d", len(templates))
	}
}

func TestLoadTemplatesRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	bad := `name: broken
steps:
  - id: a
    role: r
    inputs: [nowhere]
`
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	if _, err := LoadTemplates(dir); err == nil {
		t.Error("expected validation error for bad template file")
	}
}
