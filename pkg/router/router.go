// Package router dispatches typed requests to the responsible capability
// and normalizes every outcome into a uniform response envelope. A
// capability-level failure never propagates as an unhandled fault.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
	"github.com/avollmer/conductor/pkg/registry"
	"github.com/avollmer/conductor/pkg/resilience"
	"github.com/avollmer/conductor/pkg/telemetry"
)

const defaultTimeout = 30 * time.Second

// Router resolves and invokes capabilities for single requests.
type Router struct {
	registry *registry.Registry
	timeout  time.Duration
	metrics  *telemetry.DispatchMetrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout sets the default handle timeout. Descriptor timeouts
// override it per capability.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Router) { r.timeout = timeout }
}

// WithMetrics attaches the dispatch observability hook.
func WithMetrics(metrics *telemetry.DispatchMetrics) Option {
	return func(r *Router) { r.metrics = metrics }
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates a router over a registry.
func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		timeout:  defaultTimeout,
		tracer:   otel.Tracer("conductor/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Dispatch routes a request to its capability and returns an envelope.
// Every code path terminates in a well-formed envelope; resolution and
// backend failures are recovered into classified errors, never raised.
func (r *Router) Dispatch(ctx context.Context, req core.Request) core.Response {
	start := time.Now()

	reqType := strings.TrimSpace(req.Type)
	if reqType == "" {
		err := errors.New(errors.CodeInvalidRequest, "request type is empty", nil)
		return core.Fail("", err, time.Since(start))
	}

	ctx, span := r.tracer.Start(ctx, "Router.Dispatch",
		trace.WithAttributes(attribute.String("request.type", reqType)),
	)
	defer span.End()

	capability, err := r.registry.Resolve(ctx, reqType)
	if err != nil {
		r.logger.WarnContext(ctx, "router.resolve.failed",
			slog.String("request_type", reqType),
			slog.String("error", err.Error()),
		)
		elapsed := time.Since(start)
		r.record(ctx, reqType, elapsed, err)
		return core.Fail("", err, elapsed)
	}

	name := capability.Name()
	r.logger.DebugContext(ctx, "router.dispatch.start",
		slog.String("capability", name),
	)

	data, err := resilience.WithTimeoutResult(ctx,
		resilience.TimeoutConfig{Duration: r.timeoutFor(reqType)},
		func(ctx context.Context) (map[string]any, error) {
			return capability.Handle(ctx, req.Data)
		},
	)
	elapsed := time.Since(start)

	if err != nil {
		err = classifyHandleError(err)
		r.logger.WarnContext(ctx, "router.dispatch.failed",
			slog.String("capability", name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		r.record(ctx, name, elapsed, err)
		return core.Fail(name, err, elapsed)
	}

	r.logger.DebugContext(ctx, "router.dispatch.complete",
		slog.String("capability", name),
		slog.Duration("elapsed", elapsed),
	)
	r.record(ctx, name, elapsed, nil)
	return core.Succeed(name, data, elapsed)
}

// timeoutFor returns the descriptor override or the router default.
func (r *Router) timeoutFor(name string) time.Duration {
	if desc, ok := r.registry.Descriptor(name); ok && desc.Timeout > 0 {
		return desc.Timeout
	}
	return r.timeout
}

func (r *Router) record(ctx context.Context, capability string, elapsed time.Duration, err error) {
	if r.metrics != nil {
		r.metrics.RecordDispatch(ctx, capability, elapsed, err)
	}
}

// classifyHandleError maps backend failures into the envelope taxonomy.
// Timeout and cancellation keep their classification; anything else a
// backend raises becomes a CapabilityError carrying its message.
func classifyHandleError(err error) error {
	switch errors.CodeOf(err) {
	case errors.CodeTimeout, errors.CodeCancelled, errors.CodeCapabilityError, errors.CodeInvalidRequest:
		return err
	default:
		return errors.New(errors.CodeCapabilityError, err.Error(), err)
	}
}
