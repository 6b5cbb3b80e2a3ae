package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides a configurable mock language model for testing
// conversation loops without calling a real provider.
//
// Responses are matched against the last user message. A rule may carry
// tool requests: the model returns them on the first pass, then produces
// the rule's text once the conversation contains a tool response. This
// mirrors the request/execute/respond cycle of a tool-calling model.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []*ai.ModelRequest
}

type mockRule struct {
	pattern  string
	response string
	tools    []*ai.ToolRequest
}

// NewMockLLM creates a mock LLM with a fallback response used when no
// registered pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a text response for prompts containing pattern.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: pattern, response: response})
}

// AddToolResponse registers a rule that first requests the given tools,
// then answers with response after the tool results come back.
func (m *MockLLM) AddToolResponse(pattern, response string, tools ...*ai.ToolRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: pattern, response: response, tools: tools})
}

// Calls returns a copy of all requests the model received.
func (m *MockLLM) Calls() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ai.ModelRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// RegisterModel registers the mock as "mock/test-model" on the given
// Genkit instance and returns the model reference.
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model",
		&ai.ModelOptions{
			Label: "Mock Test Model",
			Supports: &ai.ModelSupports{
				Multiturn:  true,
				Tools:      true,
				SystemRole: true,
			},
		},
		m.generate)
}

func (m *MockLLM) generate(_ context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)

	prompt := lastUserText(req.Messages)
	rule := mockRule{response: m.fallback}
	for _, r := range m.rules {
		if strings.Contains(prompt, r.pattern) {
			rule = r
			break
		}
	}
	m.mu.Unlock()

	// A tool rule only fires until its results appear in the history;
	// after that the model produces its final text.
	if len(rule.tools) > 0 && !hasToolResponse(req.Messages) {
		parts := make([]*ai.Part, 0, len(rule.tools))
		for _, tr := range rule.tools {
			parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
		}
		return &ai.ModelResponse{
			Request: req,
			Message: &ai.Message{Role: ai.RoleModel, Content: parts},
		}, nil
	}

	if cb != nil {
		chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(rule.response)}}
		if err := cb(context.Background(), chunk); err != nil {
			return nil, err
		}
	}

	return &ai.ModelResponse{
		Request: req,
		Message: ai.NewModelMessage(ai.NewTextPart(rule.response)),
	}, nil
}

func lastUserText(messages []*ai.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != ai.RoleUser {
			continue
		}
		var sb strings.Builder
		for _, p := range messages[i].Content {
			if p.Kind == ai.PartText {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func hasToolResponse(messages []*ai.Message) bool {
	for _, msg := range messages {
		if msg.Role != ai.RoleTool {
			continue
		}
		for _, p := range msg.Content {
			if p.Kind == ai.PartToolResponse {
				return true
			}
		}
	}
	return false
}
