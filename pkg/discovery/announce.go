package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultHeartbeat = 10 * time.Second

// StartAnnounce publishes the given endpoints to the directory and
// refreshes them on interval so the entries stay alive past their TTL.
// The returned cancel stops the heartbeat.
func StartAnnounce(ctx context.Context, provider *DirectoryProvider, endpoints []Endpoint, interval time.Duration) (context.CancelFunc, error) {
	if provider == nil || provider.BaseURL == "" {
		return nil, errors.New("directory provider not configured")
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no endpoints to announce")
	}
	for _, endpoint := range endpoints {
		if normalizeName(endpoint.Name) == "" {
			return nil, errors.New("endpoint missing capability name")
		}
	}
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := slog.Default()

	publish := func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		for _, endpoint := range endpoints {
			if err := provider.Publish(ctx, endpoint); err != nil {
				logger.Warn("discovery.announce.failed",
					slog.String("capability", endpoint.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	publish()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publish()
			}
		}
	}()

	return cancel, nil
}
