package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
)

// RemoteCapability adapts a discovered HTTP endpoint to the local
// capability contract. Requests are forwarded as JSON; the remote side
// answers with the same envelope shape the router produces.
type RemoteCapability struct {
	endpoint Endpoint
	client   *http.Client
}

// NewRemoteCapability builds a capability proxy for an endpoint.
func NewRemoteCapability(endpoint Endpoint, client *http.Client) *RemoteCapability {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteCapability{endpoint: endpoint, client: client}
}

// Name returns the discovered capability name.
func (r *RemoteCapability) Name() string { return r.endpoint.Name }

// Kind returns the discovered capability kind.
func (r *RemoteCapability) Kind() core.CapabilityKind {
	if r.endpoint.Kind == "" {
		return core.KindService
	}
	return r.endpoint.Kind
}

// Initialize verifies the endpoint URL is present. Remote processes own
// their backend lifecycle; there is nothing to construct locally.
func (r *RemoteCapability) Initialize(_ context.Context) error {
	if strings.TrimSpace(r.endpoint.URL) == "" {
		return fmt.Errorf("remote capability %q has no url", r.endpoint.Name)
	}
	return nil
}

type remoteEnvelope struct {
	Success bool            `json:"success"`
	Data    map[string]any  `json:"data,omitempty"`
	Error   *core.ErrorInfo `json:"error,omitempty"`
}

// Handle forwards the payload to the remote endpoint.
func (r *RemoteCapability) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(core.Request{Type: r.endpoint.Name, Data: data})
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "failed to encode remote request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "failed to build remote request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "remote capability call failed", err)
	}
	defer resp.Body.Close()

	var envelope remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "failed to decode remote response", err)
	}
	if !envelope.Success {
		msg := "remote capability reported failure"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return nil, errors.New(errors.CodeCapabilityError, msg, nil).
			WithContext("remote", r.endpoint.URL)
	}
	return envelope.Data, nil
}

// Shutdown is a no-op; the remote process owns its lifecycle.
func (r *RemoteCapability) Shutdown(_ context.Context) error { return nil }
