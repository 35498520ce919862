package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
)

// DispatchMetrics tracks per-capability dispatch volume, latency, and errors.
// It backs the router's rolling observability hook.
type DispatchMetrics struct {
	dispatchCounter metric.Int64Counter
	errorCounter    metric.Int64Counter
	latencyHist     metric.Float64Histogram
	stateGauge      metric.Int64Gauge
}

// NewDispatchMetrics creates a metrics tracker on the global meter provider.
func NewDispatchMetrics() (*DispatchMetrics, error) {
	meter := otel.Meter("conductor/router")

	dispatchCounter, err := meter.Int64Counter(
		"conductor.dispatch.total",
		metric.WithDescription("Total dispatched requests by capability and outcome"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"conductor.dispatch.errors",
		metric.WithDescription("Dispatch failures by capability and error kind"),
	)
	if err != nil {
		return nil, err
	}

	latencyHist, err := meter.Float64Histogram(
		"conductor.dispatch.duration",
		metric.WithDescription("Dispatch latency by capability"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stateGauge, err := meter.Int64Gauge(
		"conductor.capability.state",
		metric.WithDescription("Capability lifecycle state (-1=uninitialized, 0=failed, 1=initializing, 2=ready)"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchMetrics{
		dispatchCounter: dispatchCounter,
		errorCounter:    errorCounter,
		latencyHist:     latencyHist,
		stateGauge:      stateGauge,
	}, nil
}

// RecordDispatch records a completed dispatch.
func (m *DispatchMetrics) RecordDispatch(ctx context.Context, capability string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("outcome", outcome),
	)
	m.dispatchCounter.Add(ctx, 1, attrs)
	m.latencyHist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("capability", capability),
	))
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("error.kind", string(errors.CodeOf(err))),
		))
	}
}

// RecordCapabilityState records a capability lifecycle transition on
// the state gauge. The registry calls this on every transition.
func (m *DispatchMetrics) RecordCapabilityState(ctx context.Context, capability string, state core.CapabilityState) {
	if m == nil {
		return
	}
	m.stateGauge.Record(ctx, stateValue(state), metric.WithAttributes(
		attribute.String("capability", capability),
	))
}

func stateValue(state core.CapabilityState) int64 {
	switch state {
	case core.StateFailed:
		return 0
	case core.StateInitializing:
		return 1
	case core.StateReady:
		return 2
	default:
		return -1
	}
}
