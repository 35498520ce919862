package main

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/pipeline"
	"github.com/avollmer/conductor/pkg/registry"
	"github.com/avollmer/conductor/pkg/router"
)

type echoCapability struct{ name string }

func (e *echoCapability) Name() string                     { return e.name }
func (e *echoCapability) Kind() core.CapabilityKind        { return core.KindService }
func (e *echoCapability) Initialize(context.Context) error { return nil }
func (e *echoCapability) Shutdown(context.Context) error   { return nil }

func (e *echoCapability) Handle(_ context.Context, data map[string]any) (map[string]any, error) {
	return data, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.WithLogger(logger))
	if err := reg.Register(core.Descriptor{
		Name: "echo",
		Kind: core.KindService,
		Factory: func() (core.Capability, error) {
			return &echoCapability{name: "echo"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	rt := router.New(reg, router.WithLogger(logger))
	return &app{
		logger:   logger,
		registry: reg,
		router:   rt,
		executor: pipeline.NewExecutor(rt, pipeline.WithLogger(logger)),
	}
}

func writePlan(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPlanFailureReturnsSentinel(t *testing.T) {
	a := newTestApp(t)
	path := writePlan(t, `
id: bad
steps:
  - id: a
    capability: no_such_capability
`)
	err := runPlan(context.Background(), a, globalFlags{}, []string{path})
	if !stderrors.Is(err, errRunFailed) {
		t.Fatalf("err = %v, want errRunFailed so cleanup still runs", err)
	}
}

func TestRunPlanSuccess(t *testing.T) {
	a := newTestApp(t)
	path := writePlan(t, `
id: ok
steps:
  - id: a
    capability: echo
    input:
      text: hallo
`)
	if err := runPlan(context.Background(), a, globalFlags{}, []string{path}); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}
