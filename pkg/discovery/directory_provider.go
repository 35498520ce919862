package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DirectoryProvider queries a remote capability directory service.
type DirectoryProvider struct {
	BaseURL   string
	HTTP      *http.Client
	AuthToken string
}

// NewDirectoryProvider creates a directory provider pointing at baseURL.
func NewDirectoryProvider(baseURL string) *DirectoryProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &DirectoryProvider{
		BaseURL: baseURL,
		HTTP:    http.DefaultClient,
	}
}

// List returns active endpoints from the directory.
func (p *DirectoryProvider) List(ctx context.Context) ([]Endpoint, error) {
	if p == nil || p.BaseURL == "" {
		return nil, nil
	}
	url := p.BaseURL + "/v1/capabilities"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.AuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+p.AuthToken)
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory list failed: %s", resp.Status)
	}
	var out []Endpoint
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Publish registers an endpoint in the directory.
func (p *DirectoryProvider) Publish(ctx context.Context, endpoint Endpoint) error {
	if p == nil || p.BaseURL == "" {
		return errors.New("directory base url not configured")
	}
	url := p.BaseURL + "/v1/capabilities"
	payload, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(p.AuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+p.AuthToken)
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory publish failed: %s", resp.Status)
	}
	return nil
}

func (p *DirectoryProvider) http() *http.Client {
	if p != nil && p.HTTP != nil {
		return p.HTTP
	}
	return http.DefaultClient
}
