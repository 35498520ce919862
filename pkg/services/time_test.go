package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/errors"
)

func newTestTime(ntpErr error) *Time {
	svc := NewTime(config.TimeConfig{NTPServer: "test.pool", FallbackLocal: true})
	svc.retry.InitialDelay = time.Millisecond
	fixed := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	svc.ntpTime = func(string) (time.Time, error) {
		if ntpErr != nil {
			return time.Time{}, ntpErr
		}
		return fixed, nil
	}
	svc.now = func() time.Time { return fixed.Add(time.Hour) }
	return svc
}

func TestTimeRetriesNTPQuery(t *testing.T) {
	svc := newTestTime(nil)
	fixed := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	attempts := 0
	svc.ntpTime = func(string) (time.Time, error) {
		attempts++
		if attempts < 3 {
			return time.Time{}, fmt.Errorf("ntp timeout")
		}
		return fixed, nil
	}

	out, err := svc.Handle(context.Background(), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out["source"] != "ntp" {
		t.Fatalf("source = %v, want ntp after retries", out["source"])
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestTimeNow(t *testing.T) {
	svc := newTestTime(nil)
	out, err := svc.Handle(context.Background(), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out["source"] != "ntp" {
		t.Fatalf("source = %v", out["source"])
	}
	if out["formatted_time"] != "Monday, 24. August 2026, 12:30:00" {
		t.Fatalf("formatted_time = %v", out["formatted_time"])
	}
}

func TestTimeFallsBackToLocalClock(t *testing.T) {
	svc := newTestTime(fmt.Errorf("ntp unreachable"))
	out, err := svc.Handle(context.Background(), map[string]any{"op": "now"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out["source"] != "local" {
		t.Fatalf("source = %v", out["source"])
	}
}

func TestTimeNoFallbackSurfacesError(t *testing.T) {
	svc := newTestTime(fmt.Errorf("ntp unreachable"))
	svc.fallbackLocal = false
	_, err := svc.Handle(context.Background(), nil)
	if errors.CodeOf(err) != errors.CodeCapabilityError {
		t.Fatalf("error = %v, want CAPABILITY_ERROR", err)
	}
}

func TestTimeFormatTimestamp(t *testing.T) {
	svc := newTestTime(nil)
	ts := float64(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC).Unix())
	out, err := svc.Handle(context.Background(), map[string]any{
		"op":        "format",
		"timestamp": ts,
		"layout":    "2006-01-02",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out["formatted_time"] != "2026-01-02" {
		t.Fatalf("formatted_time = %v", out["formatted_time"])
	}
}

func TestTimeDifference(t *testing.T) {
	svc := newTestTime(nil)
	out, err := svc.Handle(context.Background(), map[string]any{
		"op":         "diff",
		"timestamp1": float64(1000),
		"timestamp2": float64(1000 + 90061),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out["difference_seconds"] != float64(90061) {
		t.Fatalf("difference_seconds = %v", out["difference_seconds"])
	}
	if out["formatted_difference"] != "1 Tage, 1 Stunden, 1 Minuten, 1 Sekunden" {
		t.Fatalf("formatted_difference = %v", out["formatted_difference"])
	}
}

func TestTimeInvalidOps(t *testing.T) {
	svc := newTestTime(nil)
	cases := []map[string]any{
		{"op": "format"},
		{"op": "diff", "timestamp1": float64(1)},
		{"op": "rewind"},
	}
	for _, payload := range cases {
		if _, err := svc.Handle(context.Background(), payload); errors.CodeOf(err) != errors.CodeInvalidRequest {
			t.Fatalf("payload %v: error = %v, want INVALID_REQUEST", payload, err)
		}
	}
}
