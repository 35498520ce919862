package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider scripts chat completions for tests. The agents send one
// system+user exchange per call; Reply, when set, computes the answer
// from those two messages. Otherwise Response is returned verbatim, or
// Err when set. Every request is recorded for assertions.
type MockProvider struct {
	Response string
	Err      error
	Reply    func(system, user string) string

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Response
	if m.Reply != nil {
		content = m.Reply(splitExchange(req))
	}
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Requests returns a copy of every recorded request.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// LastRequest returns the most recent recorded request.
func (m *MockProvider) LastRequest() (ChatRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// splitExchange pulls the system and user contents out of a request.
func splitExchange(req ChatRequest) (system, user string) {
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = msg.Content
		case RoleUser:
			user = msg.Content
		}
	}
	return system, user
}

// ErrMock is the default failure returned by FailingProvider.
var ErrMock = fmt.Errorf("mock provider failure")

// FailingProvider always fails, with Err or ErrMock.
type FailingProvider struct {
	Err error
}

func (f *FailingProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, ErrMock
	}
	return nil, f.Err
}
