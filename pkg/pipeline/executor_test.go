package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
)

// fakeDispatcher records dispatched request types and answers via handler.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	handler func(ctx context.Context, req core.Request) core.Response
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req core.Request) core.Response {
	d.mu.Lock()
	d.calls = append(d.calls, req.Type)
	d.mu.Unlock()
	if d.handler != nil {
		return d.handler(ctx, req)
	}
	return core.Succeed(req.Type, map[string]any{"echo": req.Type}, time.Millisecond)
}

func (d *fakeDispatcher) callCount(capability string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == capability {
			n++
		}
	}
	return n
}

func seqPlan(caps ...string) *Plan {
	plan := &Plan{ID: "test-plan"}
	for i, c := range caps {
		step := Step{Capability: c}
		if i > 0 {
			step.After = []string{caps[i-1]}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

func TestRunSoftFailureContinues(t *testing.T) {
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			if req.Type == "b" {
				err := errors.New(errors.CodeCapabilityError, "backend unavailable", nil)
				return core.Fail("b", err, time.Millisecond)
			}
			return core.Succeed(req.Type, map[string]any{"echo": req.Type}, time.Millisecond)
		},
	}
	ex := NewExecutor(d)

	result, err := ex.Run(context.Background(), seqPlan("a", "b", "c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", result.Status, StatusCompleted)
	}
	if !result.Success {
		t.Fatal("soft failure must not mark the run unsuccessful")
	}
	if len(result.Steps) != 3 {
		t.Fatalf("recorded %d steps, want 3", len(result.Steps))
	}
	if result.Steps[1].Response.Success {
		t.Fatal("step b should carry the failure envelope")
	}
	if kind := result.Steps[1].Response.ErrorKind(); kind != errors.CodeCapabilityError {
		t.Fatalf("step b error kind = %s", kind)
	}
	if d.callCount("c") != 1 {
		t.Fatal("step c should still run after a soft failure")
	}
}

func TestRunFatalFailureStops(t *testing.T) {
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			if req.Type == "b" {
				err := errors.New(errors.CodeUnknownCapability, "no capability registered for \"b\"", nil)
				return core.Fail("", err, 0)
			}
			return core.Succeed(req.Type, nil, time.Millisecond)
		},
	}
	ex := NewExecutor(d)

	result, err := ex.Run(context.Background(), seqPlan("a", "b", "c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusAborted {
		t.Fatalf("status = %s, want %s", result.Status, StatusAborted)
	}
	if result.Success {
		t.Fatal("fatal failure must mark the run unsuccessful")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("recorded %d steps, want 2", len(result.Steps))
	}
	if d.callCount("c") != 0 {
		t.Fatal("step c must never be dispatched after a fatal failure")
	}
}

func TestRunCustomFatalSet(t *testing.T) {
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			if req.Type == "b" {
				err := errors.New(errors.CodeTimeout, "deadline exceeded", nil)
				return core.Fail("b", err, time.Millisecond)
			}
			return core.Succeed(req.Type, nil, time.Millisecond)
		},
	}
	ex := NewExecutor(d, WithFatalCodes(errors.CodeTimeout))

	result, err := ex.Run(context.Background(), seqPlan("a", "b", "c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusAborted || len(result.Steps) != 2 {
		t.Fatalf("timeout promoted to fatal: status=%s steps=%d", result.Status, len(result.Steps))
	}
}

func TestRunDeclaredOrderDespiteConcurrency(t *testing.T) {
	delays := map[string]time.Duration{"a": 40 * time.Millisecond, "b": 15 * time.Millisecond, "c": time.Millisecond}
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			time.Sleep(delays[req.Type])
			return core.Succeed(req.Type, map[string]any{"echo": req.Type}, delays[req.Type])
		},
	}
	ex := NewExecutor(d, WithMaxInFlight(3))

	plan := &Plan{ID: "parallel", Steps: []Step{
		{Capability: "a"},
		{Capability: "b"},
		{Capability: "c"},
	}}
	result, err := ex.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("recorded %d steps, want 3", len(result.Steps))
	}
	for i, want := range []string{"a", "b", "c"} {
		if result.Steps[i].StepID != want {
			t.Fatalf("step %d = %s, want %s", i, result.Steps[i].StepID, want)
		}
	}
}

func TestRunThreadsDataBetweenSteps(t *testing.T) {
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			switch req.Type {
			case "refine":
				return core.Succeed("refine", map[string]any{"query": "go generics"}, time.Millisecond)
			case "search":
				return core.Succeed("search", map[string]any{"received": req.Data["query"]}, time.Millisecond)
			}
			return core.Succeed(req.Type, nil, 0)
		},
	}
	ex := NewExecutor(d)

	plan := &Plan{ID: "threaded", Steps: []Step{
		{ID: "refine", Capability: "refine"},
		{ID: "search", Capability: "search", After: []string{"refine"}, Input: func(prior Results) map[string]any {
			return map[string]any{"query": prior.String("refine", "query", "")}
		}},
	}}
	result, err := ex.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result.Steps[1].Response.Data["received"]; got != "go generics" {
		t.Fatalf("search received %v, want refined query", got)
	}
}

func TestRunCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			if req.Type == "a" {
				cancel()
			}
			return core.Succeed(req.Type, nil, time.Millisecond)
		},
	}
	ex := NewExecutor(d)

	result, err := ex.Run(ctx, seqPlan("a", "b", "c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusAborted {
		t.Fatalf("status = %s, want %s", result.Status, StatusAborted)
	}
	if result.Success {
		t.Fatal("cancelled run must not be successful")
	}
	if len(result.Steps) != 1 {
		t.Fatalf("recorded %d steps, want exactly the completed one", len(result.Steps))
	}
	if result.Steps[0].StepID != "a" {
		t.Fatalf("recorded step = %s, want a", result.Steps[0].StepID)
	}
}

func TestRunRecordsAuditEvents(t *testing.T) {
	store := NewMemoryAuditStore()
	d := &fakeDispatcher{
		handler: func(_ context.Context, req core.Request) core.Response {
			if req.Type == "b" {
				err := errors.New(errors.CodeCapabilityError, "flaky", nil)
				return core.Fail("b", err, time.Millisecond)
			}
			return core.Succeed(req.Type, map[string]any{"echo": req.Type}, time.Millisecond)
		},
	}
	ex := NewExecutor(d, WithAuditStore(store))

	result, err := ex.Run(context.Background(), seqPlan("a", "b"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	events, err := store.List(context.Background(), AuditFilter{RunID: result.RunID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("recorded %d audit events, want 2", len(events))
	}
	failed, err := store.List(context.Background(), AuditFilter{RunID: result.RunID, Status: "failed"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].StepID != "b" {
		t.Fatalf("failed events = %+v", failed)
	}
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	ex := NewExecutor(&fakeDispatcher{})

	cases := []*Plan{
		{ID: "empty"},
		{ID: "dup", Steps: []Step{{Capability: "a"}, {Capability: "a"}}},
		{ID: "forward", Steps: []Step{{ID: "x", Capability: "a", After: []string{"y"}}, {ID: "y", Capability: "b"}}},
	}
	for _, plan := range cases {
		_, err := ex.Run(context.Background(), plan)
		if errors.CodeOf(err) != errors.CodeInvalidRequest {
			t.Fatalf("plan %s: error = %v, want INVALID_REQUEST", plan.ID, err)
		}
	}
}
