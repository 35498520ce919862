// Package discovery consults a shared capability directory. The registry
// uses it as a fallback when a request type has no local registration;
// capabilities may announce their own availability on the same directory.
package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avollmer/conductor/pkg/core"
)

// Endpoint represents a discovered capability entry.
type Endpoint struct {
	Name      string              `json:"name"`
	Kind      core.CapabilityKind `json:"kind"`
	URL       string              `json:"url"`
	Labels    map[string]string   `json:"labels,omitempty"`
	ExpiresAt time.Time           `json:"expires_at,omitempty"`
}

// Provider lists capability endpoints from one directory source.
type Provider interface {
	List(ctx context.Context) ([]Endpoint, error)
}

// Resolver aggregates providers in priority order.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver with providers in order of priority.
func NewResolver(providers ...Provider) (*Resolver, error) {
	filtered := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		filtered = append(filtered, provider)
	}
	if len(filtered) == 0 {
		return nil, errors.New("no discovery providers configured")
	}
	return &Resolver{providers: filtered}, nil
}

// Resolve returns discovered endpoints in provider order, deduped by name.
// A failing provider does not mask entries from earlier providers.
func (r *Resolver) Resolve(ctx context.Context) ([]Endpoint, error) {
	if r == nil {
		return nil, errors.New("resolver is nil")
	}
	out := make([]Endpoint, 0)
	seen := map[string]struct{}{}
	var lastErr error
	for _, provider := range r.providers {
		entries, err := provider.List(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		for _, entry := range entries {
			key := normalizeName(entry.Name)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entry)
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// Lookup finds a single capability by name across all providers.
func (r *Resolver) Lookup(ctx context.Context, name string) (Endpoint, bool, error) {
	key := normalizeName(name)
	if key == "" {
		return Endpoint{}, false, errors.New("capability name is required")
	}
	entries, err := r.Resolve(ctx)
	if err != nil {
		return Endpoint{}, false, err
	}
	for _, entry := range entries {
		if normalizeName(entry.Name) == key {
			return entry, true, nil
		}
	}
	return Endpoint{}, false, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
