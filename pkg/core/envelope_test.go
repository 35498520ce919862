package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/avollmer/conductor/pkg/errors"
)

func TestSucceedAndFailAreExclusive(t *testing.T) {
	ok := Succeed("sentiment", map[string]any{"label": "positive"}, 5*time.Millisecond)
	if !ok.Success || ok.Error != nil || ok.Data == nil {
		t.Fatalf("success envelope = %+v", ok)
	}
	if ok.Capability != "sentiment" {
		t.Fatalf("capability = %s", ok.Capability)
	}

	failed := Fail("search", errors.New(errors.CodeTimeout, "deadline exceeded", nil), time.Second)
	if failed.Success || failed.Data != nil || failed.Error == nil {
		t.Fatalf("failure envelope = %+v", failed)
	}
	if failed.Error.Kind != errors.CodeTimeout || !failed.Error.Recoverable {
		t.Fatalf("error info = %+v", failed.Error)
	}
}

func TestSoftClassification(t *testing.T) {
	soft := Fail("x", errors.New(errors.CodeCapabilityError, "backend down", nil), 0)
	if !soft.Soft() {
		t.Fatal("capability error must be soft")
	}
	fatal := Fail("", errors.New(errors.CodeUnknownCapability, "no such capability", nil), 0)
	if fatal.Soft() {
		t.Fatal("unknown capability must not be soft")
	}
	if Succeed("x", nil, 0).Soft() {
		t.Fatal("success is never soft")
	}
}

func TestEnvelopeJSONOmitsUnsetSide(t *testing.T) {
	raw, err := json.Marshal(Succeed("time", map[string]any{"timestamp": 1.0}, time.Millisecond))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["error"]; present {
		t.Fatal("success envelope must omit error")
	}
	if decoded["capability"] != "time" {
		t.Fatalf("capability = %v", decoded["capability"])
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := WithRunID(t.Context(), "run-123")
	if got, ok := RunID(ctx); !ok || got != "run-123" {
		t.Fatalf("run id = %q, %v", got, ok)
	}
	if _, ok := RunID(t.Context()); ok {
		t.Fatal("background context should carry no run id")
	}
	ctx, id := EnsureRunID(t.Context())
	if got, ok := RunID(ctx); !ok || got != id || id == "" {
		t.Fatalf("ensured run id = %q, got %q", id, got)
	}
}
