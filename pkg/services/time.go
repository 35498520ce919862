package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/ntp"

	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
	"github.com/avollmer/conductor/pkg/resilience"
)

// TimeName is the registered name of the time service.
const TimeName = "time"

const defaultTimeLayout = "Monday, 02. January 2006, 15:04:05"

// Time answers time queries against an NTP server, with an optional
// local clock fallback when the server is unreachable. Besides the
// current time it formats given timestamps and computes differences.
type Time struct {
	server        string
	layout        string
	fallbackLocal bool
	retry         resilience.RetryConfig

	// ntpTime is swapped in tests.
	ntpTime func(server string) (time.Time, error)
	now     func() time.Time
}

// NewTime builds the time service from configuration.
func NewTime(cfg config.TimeConfig) *Time {
	layout := cfg.Layout
	if strings.TrimSpace(layout) == "" {
		layout = defaultTimeLayout
	}
	return &Time{
		server:        cfg.NTPServer,
		layout:        layout,
		fallbackLocal: cfg.FallbackLocal,
		retry:         resilience.DefaultRetryConfig(),
		ntpTime:       ntp.Time,
		now:           time.Now,
	}
}

func (t *Time) Name() string                     { return TimeName }
func (t *Time) Kind() core.CapabilityKind        { return core.KindService }
func (t *Time) Initialize(context.Context) error { return nil }
func (t *Time) Shutdown(context.Context) error   { return nil }

func (t *Time) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	layout := t.layout
	if l, ok := data["layout"].(string); ok && strings.TrimSpace(l) != "" {
		layout = l
	}

	op, _ := data["op"].(string)
	switch op {
	case "", "now":
		return t.currentTime(ctx, layout)
	case "format":
		ts, ok := floatField(data, "timestamp")
		if !ok {
			return nil, errors.New(errors.CodeInvalidRequest, "op \"format\" requires field \"timestamp\"", nil)
		}
		when := time.Unix(int64(ts), 0)
		return map[string]any{
			"timestamp":      ts,
			"formatted_time": when.Format(layout),
		}, nil
	case "diff":
		a, okA := floatField(data, "timestamp1")
		b, okB := floatField(data, "timestamp2")
		if !okA || !okB {
			return nil, errors.New(errors.CodeInvalidRequest, "op \"diff\" requires fields \"timestamp1\" and \"timestamp2\"", nil)
		}
		diff := b - a
		if diff < 0 {
			diff = -diff
		}
		return map[string]any{
			"timestamp1":           a,
			"timestamp2":           b,
			"difference_seconds":   diff,
			"formatted_difference": formatDifference(time.Duration(diff) * time.Second),
		}, nil
	default:
		return nil, errors.New(errors.CodeInvalidRequest, "unknown op \""+op+"\"", nil)
	}
}

// currentTime queries the NTP server, retrying transient failures with
// backoff before falling back to the local clock.
func (t *Time) currentTime(ctx context.Context, layout string) (map[string]any, error) {
	source := "ntp"
	var when time.Time
	err := t.retry.Do(ctx, func() error {
		var qerr error
		when, qerr = t.ntpTime(t.server)
		return qerr
	})
	if err != nil {
		if !t.fallbackLocal {
			return nil, errors.New(errors.CodeCapabilityError, "ntp query failed", err)
		}
		when = t.now()
		source = "local"
	}
	return map[string]any{
		"timestamp":      float64(when.Unix()),
		"formatted_time": when.Format(layout),
		"source":         source,
	}, nil
}

func formatDifference(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60
	return fmt.Sprintf("%d Tage, %d Stunden, %d Minuten, %d Sekunden", days, hours, minutes, seconds)
}

// floatField reads a numeric payload field.
func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
