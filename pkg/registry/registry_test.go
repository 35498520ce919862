package registry

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/discovery"
	"github.com/avollmer/conductor/pkg/errors"
)

// stubCapability is a controllable in-memory capability.
type stubCapability struct {
	name        string
	kind        core.CapabilityKind
	initErr     error
	shutdownErr error
	initCalls   atomic.Int32
	handle      func(ctx context.Context, data map[string]any) (map[string]any, error)
}

func (s *stubCapability) Name() string              { return s.name }
func (s *stubCapability) Kind() core.CapabilityKind { return s.kind }

func (s *stubCapability) Initialize(_ context.Context) error {
	s.initCalls.Add(1)
	return s.initErr
}

func (s *stubCapability) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	if s.handle != nil {
		return s.handle(ctx, data)
	}
	return data, nil
}

func (s *stubCapability) Shutdown(_ context.Context) error { return s.shutdownErr }

func descriptorFor(stub *stubCapability) core.Descriptor {
	return core.Descriptor{
		Name: stub.name,
		Kind: stub.kind,
		Factory: func() (core.Capability, error) {
			return stub, nil
		},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	stub := &stubCapability{name: "lektor", kind: core.KindAgent}
	if err := r.Register(descriptorFor(stub)); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := r.Register(descriptorFor(stub))
	if errors.CodeOf(err) != errors.CodeDuplicateCapability {
		t.Errorf("error code = %s, want DUPLICATE_CAPABILITY", errors.CodeOf(err))
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "missing")
	if errors.CodeOf(err) != errors.CodeUnknownCapability {
		t.Errorf("error code = %s, want UNKNOWN_CAPABILITY", errors.CodeOf(err))
	}
}

func TestConcurrentResolveInitializesOnce(t *testing.T) {
	r := New()
	stub := &stubCapability{name: "search", kind: core.KindService}
	if err := r.Register(descriptorFor(stub)); err != nil {
		t.Fatal(err)
	}

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "search"); err != nil {
				t.Errorf("resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := stub.initCalls.Load(); got != 1 {
		t.Errorf("initialize called %d times, want 1", got)
	}
}

func TestResolveReadyDoesNotReinitialize(t *testing.T) {
	r := New()
	stub := &stubCapability{name: "time", kind: core.KindService}
	if err := r.Register(descriptorFor(stub)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "time"); err != nil {
			t.Fatal(err)
		}
	}
	if got := stub.initCalls.Load(); got != 1 {
		t.Errorf("initialize called %d times, want 1", got)
	}
}

func TestFailedInitReplayedUntilRetry(t *testing.T) {
	r := New()
	stub := &stubCapability{name: "web", kind: core.KindService, initErr: stderrors.New("browser missing")}
	if err := r.Register(descriptorFor(stub)); err != nil {
		t.Fatal(err)
	}

	_, err := r.Resolve(context.Background(), "web")
	if errors.CodeOf(err) != errors.CodeInitializationFailed {
		t.Fatalf("error code = %s, want INITIALIZATION_FAILED", errors.CodeOf(err))
	}

	// Replay without a second attempt.
	_, err2 := r.Resolve(context.Background(), "web")
	if errors.CodeOf(err2) != errors.CodeInitializationFailed {
		t.Fatalf("replayed code = %s", errors.CodeOf(err2))
	}
	if got := stub.initCalls.Load(); got != 1 {
		t.Fatalf("initialize called %d times before retry, want 1", got)
	}

	// Explicit retry succeeds once the backend recovers.
	stub.initErr = nil
	if _, err := r.RetryInit(context.Background(), "web"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := stub.initCalls.Load(); got != 2 {
		t.Errorf("initialize called %d times after retry, want 2", got)
	}
	if state := r.HealthSnapshot()["web"]; state != core.StateReady {
		t.Errorf("state = %s, want ready", state)
	}
}

func TestStateObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]core.CapabilityState{}
	r := New(WithStateObserver(func(name string, state core.CapabilityState) {
		mu.Lock()
		seen[name] = append(seen[name], state)
		mu.Unlock()
	}))

	ok := &stubCapability{name: "sentiment", kind: core.KindAgent}
	bad := &stubCapability{name: "web", kind: core.KindService, initErr: stderrors.New("browser missing")}
	for _, stub := range []*stubCapability{ok, bad} {
		if err := r.Register(descriptorFor(stub)); err != nil {
			t.Fatal(err)
		}
	}

	r.Resolve(context.Background(), "sentiment")
	r.Resolve(context.Background(), "web")

	wantOK := []core.CapabilityState{core.StateInitializing, core.StateReady}
	wantBad := []core.CapabilityState{core.StateInitializing, core.StateFailed}
	assertStates(t, seen["sentiment"], wantOK)
	assertStates(t, seen["web"], wantBad)

	// A replayed failure must not re-emit transitions.
	r.Resolve(context.Background(), "web")
	assertStates(t, seen["web"], wantBad)

	bad.initErr = nil
	if _, err := r.RetryInit(context.Background(), "web"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	assertStates(t, seen["web"], append(wantBad, core.StateInitializing, core.StateReady))
}

func assertStates(t *testing.T, got, want []core.CapabilityState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestHealthSnapshot(t *testing.T) {
	r := New()
	ok := &stubCapability{name: "sentiment", kind: core.KindAgent}
	bad := &stubCapability{name: "web", kind: core.KindService, initErr: stderrors.New("boom")}
	for _, stub := range []*stubCapability{ok, bad} {
		if err := r.Register(descriptorFor(stub)); err != nil {
			t.Fatal(err)
		}
	}

	snap := r.HealthSnapshot()
	if snap["sentiment"] != core.StateUninitialized || snap["web"] != core.StateUninitialized {
		t.Errorf("initial snapshot = %v", snap)
	}

	r.Resolve(context.Background(), "sentiment")
	r.Resolve(context.Background(), "web")

	snap = r.HealthSnapshot()
	if snap["sentiment"] != core.StateReady {
		t.Errorf("sentiment state = %s", snap["sentiment"])
	}
	if snap["web"] != core.StateFailed {
		t.Errorf("web state = %s", snap["web"])
	}
}

func TestShutdownAllCollectsFailures(t *testing.T) {
	r := New()
	ok := &stubCapability{name: "a", kind: core.KindAgent}
	bad1 := &stubCapability{name: "b", kind: core.KindAgent, shutdownErr: stderrors.New("b stuck")}
	bad2 := &stubCapability{name: "c", kind: core.KindService, shutdownErr: stderrors.New("c stuck")}
	for _, stub := range []*stubCapability{ok, bad1, bad2} {
		if err := r.Register(descriptorFor(stub)); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Resolve(context.Background(), stub.name); err != nil {
			t.Fatal(err)
		}
	}

	err := r.ShutdownAll(context.Background())
	if err == nil {
		t.Fatal("expected joined shutdown errors")
	}
	for _, want := range []string{"b stuck", "c stuck"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestDirectoryFallback(t *testing.T) {
	stub := &stubCapability{name: "translator", kind: core.KindAgent}
	dir := &stubDirectory{
		endpoints: map[string]discovery.Endpoint{
			"translator": {Name: "translator", Kind: core.KindAgent, URL: "http://remote:9000"},
		},
	}
	r := New(WithDirectory(dir))

	// Local registrations still take priority.
	if err := r.Register(descriptorFor(stub)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), "translator"); err != nil {
		t.Fatal(err)
	}
	if stub.initCalls.Load() != 1 {
		t.Error("local capability not used")
	}

	// Discovery miss maps to UnknownCapability.
	_, err := r.Resolve(context.Background(), "nonexistent")
	if errors.CodeOf(err) != errors.CodeUnknownCapability {
		t.Errorf("error code = %s, want UNKNOWN_CAPABILITY", errors.CodeOf(err))
	}

	// Discovery hit registers a remote proxy entry.
	dir.endpoints["summarizer"] = discovery.Endpoint{Name: "summarizer", Kind: core.KindAgent, URL: "http://remote:9001"}
	if _, ok := r.Descriptor("summarizer"); ok {
		t.Fatal("summarizer should not be registered yet")
	}
	if _, err := r.Resolve(context.Background(), "summarizer"); err != nil {
		t.Fatalf("discovered resolve failed: %v", err)
	}
	if _, ok := r.Descriptor("summarizer"); !ok {
		t.Error("discovered capability was not cached")
	}
}

type stubDirectory struct {
	endpoints map[string]discovery.Endpoint
}

func (d *stubDirectory) Lookup(_ context.Context, name string) (discovery.Endpoint, bool, error) {
	ep, ok := d.endpoints[name]
	return ep, ok, nil
}
