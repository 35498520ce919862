package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat completions endpoint (OpenAI, Ollama's /v1, vLLM, LiteLLM).
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// DefaultTemperature applies when a request leaves Temperature unset.
	DefaultTemperature float64
}

// NewOpenAI creates a provider for an OpenAI-compatible endpoint.
func NewOpenAI(baseURL, apiKey string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openaiResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends a chat completion request and maps the response to ChatResponse.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.DefaultTemperature
	}
	oReq := openaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat api call failed: %w", err)
	}
	defer resp.Body.Close()

	var oResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if oResp.Error != nil {
			return nil, fmt.Errorf("chat api error: %s", oResp.Error.Message)
		}
		return nil, fmt.Errorf("chat api returned status: %d", resp.StatusCode)
	}
	if len(oResp.Choices) == 0 {
		return nil, fmt.Errorf("chat api returned no choices")
	}

	return &ChatResponse{
		Content: oResp.Choices[0].Message.Content,
		Usage:   oResp.Usage,
	}, nil
}
