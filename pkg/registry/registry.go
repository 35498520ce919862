// Package registry owns the capability map: lazily-constructed,
// independently-failable backends keyed by name. Initialization is
// single-flight per name; concurrent first resolvers share one attempt
// and its outcome.
package registry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/discovery"
	"github.com/avollmer/conductor/pkg/errors"
)

// Directory is the external discovery collaborator consulted on a local
// miss. A nil Directory disables the fallback.
type Directory interface {
	Lookup(ctx context.Context, name string) (discovery.Endpoint, bool, error)
}

// StateObserver is notified on every capability lifecycle transition.
type StateObserver func(name string, state core.CapabilityState)

// Registry maps capability names to lazily-initialized instances.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	directory Directory
	logger    *slog.Logger
	observer  StateObserver
}

// entry tracks one capability's descriptor, lifecycle state, and
// single-flight gate. The done channel is closed when an initialization
// attempt finishes and replaced on explicit retry.
type entry struct {
	mu    sync.Mutex
	desc  core.Descriptor
	state core.CapabilityState
	cap   core.Capability
	err   error
	done  chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithDirectory sets the discovery fallback used on local misses.
func WithDirectory(directory Directory) Option {
	return func(r *Registry) { r.directory = directory }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithStateObserver registers a callback for lifecycle transitions,
// used to feed the capability state gauge.
func WithStateObserver(observer StateObserver) Option {
	return func(r *Registry) { r.observer = observer }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register declares a capability. The factory is not invoked here;
// construction and initialization happen on first Resolve.
func (r *Registry) Register(desc core.Descriptor) error {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return errors.New(errors.CodeInvalidRequest, "capability name is required", nil)
	}
	if desc.Factory == nil {
		return errors.New(errors.CodeInvalidRequest, "capability factory is required", nil).
			WithContext("capability", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return errors.New(errors.CodeDuplicateCapability, "capability already registered", nil).
			WithContext("capability", name)
	}
	desc.Name = name
	r.entries[name] = &entry{
		desc:  desc,
		state: core.StateUninitialized,
	}
	r.logger.Debug("registry.register", slog.String("capability", name), slog.String("kind", string(desc.Kind)))
	return nil
}

// Resolve returns the initialized capability for name.
//
// Ready entries return immediately. An uninitialized entry triggers
// exactly one factory+Initialize attempt even under concurrent callers;
// racing callers block until the attempt completes and share the outcome.
// A Failed entry replays the stored error until RetryInit.
func (r *Registry) Resolve(ctx context.Context, name string) (core.Capability, error) {
	ent, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.resolveEntry(ctx, ent, false)
}

// RetryInit re-attempts initialization of a Failed capability.
// Ready capabilities are returned as-is.
func (r *Registry) RetryInit(ctx context.Context, name string) (core.Capability, error) {
	ent, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.resolveEntry(ctx, ent, true)
}

// Descriptor returns the registered descriptor for name.
func (r *Registry) Descriptor(name string) (core.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entries[name]
	if !ok {
		return core.Descriptor{}, false
	}
	return ent.desc, true
}

// HealthSnapshot returns a non-blocking, point-in-time view of every
// capability's lifecycle state.
func (r *Registry) HealthSnapshot() map[string]core.CapabilityState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]core.CapabilityState, len(r.entries))
	for name, ent := range r.entries {
		ent.mu.Lock()
		out[name] = ent.state
		ent.mu.Unlock()
	}
	return out
}

// ShutdownAll invokes Shutdown on every Ready capability. Best-effort:
// one failure does not abort the rest; all failures are joined.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, ent := range r.entries {
		entries = append(entries, ent)
	}
	r.mu.RUnlock()

	var errs []error
	for _, ent := range entries {
		ent.mu.Lock()
		capability := ent.cap
		ready := ent.state == core.StateReady
		name := ent.desc.Name
		ent.mu.Unlock()
		if !ready || capability == nil {
			continue
		}
		if err := capability.Shutdown(ctx); err != nil {
			r.logger.Error("registry.shutdown.failed",
				slog.String("capability", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, errors.New(errors.CodeCapabilityError, "shutdown failed", err).
				WithContext("capability", name))
		}
	}
	return stderrors.Join(errs...)
}

// lookup finds the entry for name, consulting the discovery directory
// on a local miss. Directory failures map to UnknownCapability.
func (r *Registry) lookup(ctx context.Context, name string) (*entry, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	ent, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return ent, nil
	}

	if r.directory != nil {
		if ent, err := r.discover(ctx, name); err == nil {
			return ent, nil
		}
	}
	return nil, errors.New(errors.CodeUnknownCapability, "no capability registered for request type", nil).
		WithContext("capability", name)
}

// discover consults the directory and registers a remote proxy on a hit.
func (r *Registry) discover(ctx context.Context, name string) (*entry, error) {
	endpoint, found, err := r.directory.Lookup(ctx, name)
	if err != nil || !found {
		if err != nil {
			r.logger.Warn("registry.discover.failed",
				slog.String("capability", name),
				slog.String("error", err.Error()),
			)
		}
		return nil, errors.New(errors.CodeUnknownCapability, "capability not discoverable", err).
			WithContext("capability", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have discovered it while we were looking.
	if ent, ok := r.entries[name]; ok {
		return ent, nil
	}
	ent := &entry{
		desc: core.Descriptor{
			Name: name,
			Kind: endpoint.Kind,
			Factory: func() (core.Capability, error) {
				return discovery.NewRemoteCapability(endpoint, nil), nil
			},
		},
		state: core.StateUninitialized,
	}
	r.entries[name] = ent
	r.logger.Info("registry.discover.hit",
		slog.String("capability", name),
		slog.String("url", endpoint.URL),
	)
	return ent, nil
}

// resolveEntry drives the entry state machine for one resolution.
func (r *Registry) resolveEntry(ctx context.Context, ent *entry, retry bool) (core.Capability, error) {
	for {
		ent.mu.Lock()
		switch ent.state {
		case core.StateReady:
			capability := ent.cap
			ent.mu.Unlock()
			return capability, nil

		case core.StateFailed:
			if !retry {
				err := ent.err
				ent.mu.Unlock()
				return nil, err
			}
			// Failed -> Initializing is the only non-monotonic transition,
			// taken only on explicit retry.
			retry = false
			ent.state = core.StateInitializing
			ent.done = make(chan struct{})
			ent.mu.Unlock()
			r.observe(ent.desc.Name, core.StateInitializing)
			r.initialize(ctx, ent)

		case core.StateInitializing:
			done := ent.done
			ent.mu.Unlock()
			select {
			case <-done:
				// Re-check the outcome.
			case <-ctx.Done():
				return nil, errors.New(errors.CodeCancelled, "resolve cancelled", ctx.Err()).
					WithContext("capability", ent.desc.Name)
			}

		case core.StateUninitialized:
			ent.state = core.StateInitializing
			ent.done = make(chan struct{})
			ent.mu.Unlock()
			r.observe(ent.desc.Name, core.StateInitializing)
			r.initialize(ctx, ent)
		}
	}
}

// initialize runs the single initialization attempt for ent. The caller
// must have transitioned the entry to Initializing.
func (r *Registry) initialize(ctx context.Context, ent *entry) {
	name := ent.desc.Name
	r.logger.Info("registry.init.start", slog.String("capability", name))

	capability, err := ent.desc.Factory()
	if err == nil {
		err = capability.Initialize(ctx)
	}

	var outcome core.CapabilityState
	ent.mu.Lock()
	if err != nil {
		ent.state = core.StateFailed
		ent.cap = nil
		ent.err = errors.New(errors.CodeInitializationFailed, "capability initialization failed", err).
			WithContext("capability", name)
		r.logger.Error("registry.init.failed",
			slog.String("capability", name),
			slog.String("error", err.Error()),
		)
	} else {
		ent.state = core.StateReady
		ent.cap = capability
		ent.err = nil
		r.logger.Info("registry.init.ready", slog.String("capability", name))
	}
	outcome = ent.state
	close(ent.done)
	ent.mu.Unlock()
	r.observe(name, outcome)
}

// observe reports a lifecycle transition to the configured observer.
func (r *Registry) observe(name string, state core.CapabilityState) {
	if r.observer != nil {
		r.observer(name, state)
	}
}
