package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// planFile is the on-disk plan representation. Step inputs are literal
// values; a string of the form "$step.field.subfield" is resolved
// against that step's payload at execution time, substituting an empty
// string when the reference is absent. "$$" escapes a literal dollar.
type planFile struct {
	ID    string     `json:"id" yaml:"id"`
	Steps []stepFile `json:"steps" yaml:"steps"`
}

type stepFile struct {
	ID         string         `json:"id" yaml:"id"`
	Capability string         `json:"capability" yaml:"capability"`
	After      []string       `json:"after,omitempty" yaml:"after,omitempty"`
	Input      map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
}

// LoadPlan loads a pipeline plan from a YAML or JSON file.
func LoadPlan(path string) (*Plan, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("plan path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(data)
	default:
		return ParseYAML(data)
	}
}

// ParseYAML parses a plan from YAML.
func ParseYAML(data []byte) (*Plan, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	return pf.toPlan()
}

// ParseJSON parses a plan from JSON.
func ParseJSON(data []byte) (*Plan, error) {
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	return pf.toPlan()
}

func (pf planFile) toPlan() (*Plan, error) {
	plan := &Plan{ID: pf.ID}
	for _, sf := range pf.Steps {
		input := sf.Input
		after := sf.After
		// Dependencies not declared explicitly are inferred from input
		// references, keeping plans terse.
		refs := referencedSteps(input)
		for _, ref := range refs {
			if !containsString(after, ref) {
				after = append(after, ref)
			}
		}
		plan.Steps = append(plan.Steps, Step{
			ID:         sf.ID,
			Capability: sf.Capability,
			After:      after,
			Input:      templateInput(input),
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// templateInput builds an InputFunc resolving "$step.field" references
// against prior results.
func templateInput(input map[string]any) InputFunc {
	return func(prior Results) map[string]any {
		out := make(map[string]any, len(input))
		for key, value := range input {
			out[key] = resolveValue(value, prior)
		}
		return out
	}
}

func resolveValue(value any, prior Results) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if strings.HasPrefix(s, "$$") {
		return s[1:]
	}
	if !strings.HasPrefix(s, "$") {
		return s
	}
	stepID, path := splitRef(s)
	if stepID == "" {
		return ""
	}
	data := prior.Data(stepID)
	var current any = data
	for _, part := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}
	if current == nil {
		return ""
	}
	return current
}

// referencedSteps collects the step IDs referenced by input templates.
func referencedSteps(input map[string]any) []string {
	var out []string
	for _, value := range input {
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "$$") {
			continue
		}
		if stepID, _ := splitRef(s); stepID != "" && !containsString(out, stepID) {
			out = append(out, stepID)
		}
	}
	return out
}

func splitRef(ref string) (string, []string) {
	parts := strings.Split(strings.TrimPrefix(ref, "$"), ".")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil
	}
	return parts[0], parts[1:]
}

func containsString(list []string, item string) bool {
	for _, entry := range list {
		if entry == item {
			return true
		}
	}
	return false
}
