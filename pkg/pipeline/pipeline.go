// Package pipeline composes ordered router invocations into multi-step
// runs with data threaded between steps and explicit soft/fatal failure
// policy.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/avollmer/conductor/pkg/core"
)

// Results gives a step's input mapping read access to prior step
// envelopes, keyed by step ID. Mappings must tolerate absent upstream
// data by substituting neutral defaults; the helpers below do exactly
// that.
type Results map[string]core.Response

// Data returns a prior step's payload, or nil if the step is missing
// or failed.
func (r Results) Data(stepID string) map[string]any {
	resp, ok := r[stepID]
	if !ok || !resp.Success {
		return nil
	}
	return resp.Data
}

// String returns a string field from a prior step's payload, or def
// when the step, field, or type is absent.
func (r Results) String(stepID, key, def string) string {
	data := r.Data(stepID)
	if data == nil {
		return def
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return def
}

// InputFunc builds a step's request payload from prior results.
type InputFunc func(prior Results) map[string]any

// Step is one pipeline stage: a capability invocation whose input is
// derived from the results of the steps named in After.
type Step struct {
	// ID names the step inside the plan. Defaults to Capability when
	// unambiguous.
	ID string

	// Capability is the request type dispatched for this step.
	Capability string

	// Input builds the request payload from prior results. A nil Input
	// sends an empty payload.
	Input InputFunc

	// After lists step IDs this step depends on. Steps with disjoint
	// dependencies may execute concurrently; results are still
	// reassembled in declared order.
	After []string
}

// Plan is an ordered sequence of steps, consumed once by the executor.
type Plan struct {
	ID    string
	Steps []Step
}

// Validate normalizes step IDs and checks the plan's structure:
// unique IDs, and dependencies that only reference earlier steps.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if strings.TrimSpace(step.Capability) == "" {
			return fmt.Errorf("step %d missing capability", i)
		}
		if strings.TrimSpace(step.ID) == "" {
			step.ID = step.Capability
		}
		if prev, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q (steps %d and %d)", step.ID, prev, i)
		}
		seen[step.ID] = i
	}
	for i := range p.Steps {
		for _, dep := range p.Steps[i].After {
			j, ok := seen[dep]
			if !ok {
				return fmt.Errorf("step %q depends on unknown step %q", p.Steps[i].ID, dep)
			}
			if j >= i {
				return fmt.Errorf("step %q depends on later step %q", p.Steps[i].ID, dep)
			}
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a single pipeline run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
)

// StepResult pairs a step ID with its response envelope.
type StepResult struct {
	StepID   string        `json:"step_id"`
	Response core.Response `json:"response"`
}

// Result is the aggregate outcome of one pipeline run. Steps holds
// per-step envelopes in declared order; recording stops at the first
// fatal failure, so len(Steps) <= len(plan.Steps).
type Result struct {
	RunID   string       `json:"run_id"`
	PlanID  string       `json:"plan_id"`
	Status  RunStatus    `json:"status"`
	Success bool         `json:"success"`
	Steps   []StepResult `json:"steps"`
}
