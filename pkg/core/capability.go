// Package core provides the shared contracts of the Conductor orchestration layer.
package core

import (
	"context"
	"time"
)

// CapabilityKind distinguishes text-processing agents from network services.
type CapabilityKind string

const (
	KindAgent   CapabilityKind = "agent"
	KindService CapabilityKind = "service"
)

// CapabilityState describes the lifecycle state of a registered capability.
// Transitions are monotonic except Failed -> Initializing on explicit retry.
type CapabilityState string

const (
	StateUninitialized CapabilityState = "uninitialized"
	StateInitializing  CapabilityState = "initializing"
	StateReady         CapabilityState = "ready"
	StateFailed        CapabilityState = "failed"
)

// Capability is a single backend unit exposed through a narrow
// request/response contract. Implementations must be safe for
// concurrent Handle calls once initialized.
type Capability interface {
	// Name returns the unique capability name.
	Name() string

	// Kind reports whether this is an agent or a service.
	Kind() CapabilityKind

	// Initialize prepares the backend. Called exactly once by the
	// registry before the first Handle, even under concurrent resolution.
	Initialize(ctx context.Context) error

	// Handle processes a request payload and returns a result payload.
	Handle(ctx context.Context, data map[string]any) (map[string]any, error)

	// Shutdown releases backend resources. Best-effort.
	Shutdown(ctx context.Context) error
}

// Factory constructs a capability instance. Invoked lazily by the
// registry on first resolution.
type Factory func() (Capability, error)

// Descriptor declares a capability to the registry before construction.
type Descriptor struct {
	Name    string
	Kind    CapabilityKind
	Factory Factory

	// Timeout overrides the router's default handle timeout when positive.
	Timeout time.Duration
}
