package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one stage of a workflow template. Inputs name output keys of
// earlier steps; Condition, when set, names an output key that must exist
// for the step to run at all.
type Step struct {
	ID            string   `yaml:"id"`
	Role          string   `yaml:"role"`
	Inputs        []string `yaml:"inputs"`
	Output        string   `yaml:"output"`
	Condition     string   `yaml:"condition,omitempty"`
	MaxIterations int      `yaml:"max_iterations"`
}

// Template is an immutable, ordered list of steps, loaded once per
// workflow type.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", t.Name)
	}

	seen := make(map[string]bool)
	outputs := make(map[string]bool)
	for i, s := range t.Steps {
		if s.ID == "" || s.Role == "" {
			return fmt.Errorf("template %s: step %d missing id or role", t.Name, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("template %s: duplicate step id %s", t.Name, s.ID)
		}
		seen[s.ID] = true
		for _, in := range s.Inputs {
			if in != "goal" && !outputs[in] {
				return fmt.Errorf("template %s: step %s input %q is not produced by an earlier step", t.Name, s.ID, in)
			}
		}
		if s.Condition != "" && !outputs[s.Condition] {
			return fmt.Errorf("template %s: step %s condition %q is not produced by an earlier step", t.Name, s.ID, s.Condition)
		}
		if s.Output != "" {
			outputs[s.Output] = true
		}
	}
	return nil
}

// Roles returns the distinct responsible roles in step order.
func (t *Template) Roles() []string {
	var roles []string
	seen := make(map[string]bool)
	for _, s := range t.Steps {
		if !seen[s.Role] {
			seen[s.Role] = true
			roles = append(roles, s.Role)
		}
	}
	return roles
}

func (t *Template) step(id string) (*Step, int) {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i], i
		}
	}
	return nil, -1
}

// producerOf returns the step producing the given output key.
func (t *Template) producerOf(output string) (*Step, int) {
	for i := range t.Steps {
		if t.Steps[i].Output == output {
			return &t.Steps[i], i
		}
	}
	return nil, -1
}

func builtinTemplates() map[string]*Template {
	feature := &Template{
		Name:        "feature",
		Description: "design, implement and review a feature",
		Steps: []Step{
			{ID: "design", Role: "architect", Inputs: []string{"goal"}, Output: "design", MaxIterations: 2},
			{ID: "implement", Role: "developer", Inputs: []string{"goal", "design"}, Output: "implementation", MaxIterations: 3},
			{ID: "review", Role: "reviewer", Inputs: []string{"implementation"}, Output: "review", MaxIterations: 3},
		},
	}
	bugfix := &Template{
		Name:        "bugfix",
		Description: "diagnose, fix and verify a bug",
		Steps: []Step{
			{ID: "diagnose", Role: "developer", Inputs: []string{"goal"}, Output: "diagnosis", MaxIterations: 2},
			{ID: "fix", Role: "developer", Inputs: []string{"goal", "diagnosis"}, Output: "fix", MaxIterations: 3},
			{ID: "verify", Role: "reviewer", Inputs: []string{"fix"}, Output: "verification", MaxIterations: 2},
		},
	}
	research := &Template{
		Name:        "research",
		Description: "investigate a topic and summarize findings",
		Steps: []Step{
			{ID: "investigate", Role: "researcher", Inputs: []string{"goal"}, Output: "findings", MaxIterations: 2},
			{ID: "summarize", Role: "architect", Inputs: []string{"findings"}, Output: "summary", MaxIterations: 2},
		},
	}
	return map[string]*Template{
		feature.Name:  feature,
		bugfix.Name:   bugfix,
		research.Name: research,
	}
}

// LoadTemplates returns the built-in templates merged with any *.yaml
// templates found under dir. File templates override built-ins by name.
func LoadTemplates(dir string) (map[string]*Template, error) {
	templates := builtinTemplates()

	if dir == "" {
		return templates, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return templates, nil
		}
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", e.Name(), err)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}
		templates[t.Name] = &t
	}

	return templates, nil
}
