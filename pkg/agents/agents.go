// Package agents implements the text-processing capabilities: grammar
// correction, tonality optimization, sentiment analysis, and query
// refinement. All but query refinement delegate to an LLM provider.
package agents

import (
	"context"
	"strings"

	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
	"github.com/avollmer/conductor/pkg/llm"
)

// textAgent carries the common wiring of an LLM-backed agent.
type textAgent struct {
	name     string
	provider llm.Provider
	model    string
}

func (a *textAgent) Name() string                     { return a.name }
func (a *textAgent) Kind() core.CapabilityKind        { return core.KindAgent }
func (a *textAgent) Initialize(context.Context) error { return nil }
func (a *textAgent) Shutdown(context.Context) error   { return nil }

// chat sends a single system+user exchange and returns the trimmed reply.
func (a *textAgent) chat(ctx context.Context, system, user string) (string, error) {
	resp, err := a.provider.Chat(ctx, llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", errors.New(errors.CodeCapabilityError, a.name+" model call failed", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// textField extracts a required non-blank string field from the payload.
func textField(data map[string]any, key string) (string, error) {
	value, _ := data[key].(string)
	if strings.TrimSpace(value) == "" {
		return "", errors.New(errors.CodeInvalidRequest, "missing required field \""+key+"\"", nil)
	}
	return value, nil
}

// stringField returns a payload string field or def when absent.
func stringField(data map[string]any, key, def string) string {
	if value, ok := data[key].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return def
}
