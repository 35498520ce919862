package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
)

const defaultMaxInFlight = 4

// Dispatcher routes one request to its capability. Satisfied by the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.Request) core.Response
}

// Executor runs pipeline plans over a dispatcher.
//
// Failure policy: envelopes whose error kind is in the fatal set abort
// the run; every other failure is soft and execution continues, since a
// downstream input mapping substitutes neutral defaults for missing
// upstream data.
type Executor struct {
	dispatcher  Dispatcher
	maxInFlight int
	fatal       map[errors.ErrorCode]bool
	audit       AuditStore
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxInFlight bounds the number of concurrently executing
// independent steps.
func WithMaxInFlight(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

// WithFatalCodes replaces the set of error kinds that abort a run.
func WithFatalCodes(codes ...errors.ErrorCode) Option {
	return func(e *Executor) {
		e.fatal = make(map[errors.ErrorCode]bool, len(codes))
		for _, code := range codes {
			e.fatal[code] = true
		}
	}
}

// WithAuditStore records per-step envelopes for each run.
func WithAuditStore(store AuditStore) Option {
	return func(e *Executor) { e.audit = store }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor with the default policy: structural
// failures (InvalidRequest, UnknownCapability) are fatal, the rest soft.
func NewExecutor(dispatcher Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		dispatcher:  dispatcher,
		maxInFlight: defaultMaxInFlight,
		fatal: map[errors.ErrorCode]bool{
			errors.CodeInvalidRequest:    true,
			errors.CodeUnknownCapability: true,
		},
		tracer: otel.Tracer("conductor/pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

type completion struct {
	idx  int
	resp core.Response
}

// Run executes the plan's steps in declared order, running steps with
// disjoint dependencies concurrently up to the in-flight bound. The
// returned result holds per-step envelopes in declared order.
//
// A malformed plan is rejected before any step executes. Cancellation
// stops further launches, waits for in-flight steps, and returns the
// recorded results with StatusAborted.
func (e *Executor) Run(ctx context.Context, plan *Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidRequest, "invalid pipeline plan", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	ctx = core.WithRunID(ctx, runID)

	ctx, span := e.tracer.Start(ctx, "Pipeline.Run", trace.WithAttributes(
		attribute.String("pipeline.plan_id", plan.ID),
		attribute.String("pipeline.run_id", runID),
		attribute.Int("pipeline.steps", len(plan.Steps)),
	))
	defer span.End()

	e.logger.InfoContext(ctx, "pipeline.run.start",
		slog.String("plan_id", plan.ID),
		slog.String("run_id", runID),
		slog.Int("steps", len(plan.Steps)),
	)

	n := len(plan.Steps)
	indexByID := make(map[string]int, n)
	for i, step := range plan.Steps {
		indexByID[step.ID] = i
	}

	var (
		responses = make([]*core.Response, n)
		started   = make([]bool, n)
		completed = make([]bool, n)
		prior     = make(Results, n)
		doneCh    = make(chan completion)
		inFlight  = 0
		fatalHit  = false
		aborted   = false
	)

	depsReady := func(i int) bool {
		for _, dep := range plan.Steps[i].After {
			if !completed[indexByID[dep]] {
				return false
			}
		}
		return true
	}

	handle := func(c completion) {
		inFlight--
		completed[c.idx] = true
		responses[c.idx] = &c.resp
		prior[plan.Steps[c.idx].ID] = c.resp
		if !c.resp.Success && e.fatal[c.resp.ErrorKind()] {
			fatalHit = true
			cancel()
		}
	}

	for {
		// Launch every ready step, bounded by the in-flight limit.
		// Nothing new starts after a fatal failure or cancellation.
		if !fatalHit && !aborted && ctx.Err() == nil {
			for i := 0; i < n && inFlight < e.maxInFlight; i++ {
				if started[i] || completed[i] || !depsReady(i) {
					continue
				}
				started[i] = true
				inFlight++
				go e.launch(ctx, runID, plan, i, cloneResults(prior), doneCh)
			}
		}

		if inFlight == 0 {
			break
		}

		if fatalHit || aborted {
			// Drain in-flight steps; their envelopes are still recorded.
			handle(<-doneCh)
			continue
		}

		select {
		case c := <-doneCh:
			handle(c)
		case <-ctx.Done():
			aborted = true
		}
	}
	if ctx.Err() != nil && !fatalHit {
		aborted = true
	}

	result := e.assemble(plan, runID, responses, fatalHit, aborted)
	e.logger.InfoContext(ctx, "pipeline.run.finished",
		slog.String("plan_id", plan.ID),
		slog.String("run_id", runID),
		slog.String("status", string(result.Status)),
		slog.Bool("success", result.Success),
		slog.Int("recorded_steps", len(result.Steps)),
	)
	return result, nil
}

// launch executes a single step and reports its completion.
func (e *Executor) launch(ctx context.Context, runID string, plan *Plan, idx int, prior Results, doneCh chan<- completion) {
	step := plan.Steps[idx]

	payload := map[string]any{}
	if step.Input != nil {
		payload = step.Input(prior)
	}

	stepCtx, span := e.tracer.Start(ctx, "Pipeline.Step", trace.WithAttributes(
		attribute.String("pipeline.step_id", step.ID),
		attribute.String("pipeline.capability", step.Capability),
	))
	started := time.Now().UTC()
	resp := e.dispatcher.Dispatch(stepCtx, core.Request{Type: step.Capability, Data: payload})
	span.End()

	e.recordAudit(stepCtx, AuditEvent{
		PlanID:     plan.ID,
		RunID:      runID,
		StepID:     step.ID,
		Capability: step.Capability,
		Status:     auditStatus(resp),
		Output:     resp.Data,
		Error:      auditError(resp),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	})

	doneCh <- completion{idx: idx, resp: resp}
}

// assemble builds the final result in declared order. Cancelled
// envelopes are dropped: those steps never produced a real attempt.
func (e *Executor) assemble(plan *Plan, runID string, responses []*core.Response, fatalHit, aborted bool) *Result {
	result := &Result{
		RunID:   runID,
		PlanID:  plan.ID,
		Status:  StatusCompleted,
		Success: !fatalHit && !aborted,
	}
	if fatalHit || aborted {
		result.Status = StatusAborted
	}
	for i, resp := range responses {
		if resp == nil {
			continue
		}
		if aborted && !fatalHit && resp.ErrorKind() == errors.CodeCancelled {
			continue
		}
		result.Steps = append(result.Steps, StepResult{
			StepID:   plan.Steps[i].ID,
			Response: *resp,
		})
	}
	return result
}

func (e *Executor) recordAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "pipeline.audit.failed",
			slog.String("run_id", event.RunID),
			slog.String("step_id", event.StepID),
			slog.String("error", err.Error()),
		)
	}
}

func cloneResults(prior Results) Results {
	out := make(Results, len(prior))
	for id, resp := range prior {
		out[id] = resp
	}
	return out
}

func auditStatus(resp core.Response) string {
	if resp.Success {
		return "succeeded"
	}
	return "failed"
}

func auditError(resp core.Response) string {
	if resp.Error == nil {
		return ""
	}
	return string(resp.Error.Kind) + ": " + resp.Error.Message
}
