package discovery

import "context"

// StaticProvider lists fixed endpoints, typically from configuration.
type StaticProvider struct {
	Entries []Endpoint
}

// NewStaticProvider builds a provider from fixed entries.
func NewStaticProvider(entries ...Endpoint) *StaticProvider {
	return &StaticProvider{Entries: entries}
}

// List returns the configured endpoints.
func (p *StaticProvider) List(_ context.Context) ([]Endpoint, error) {
	if p == nil {
		return nil, nil
	}
	return append([]Endpoint(nil), p.Entries...), nil
}
