package groq

import (
	"context"
	"sync"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

// MockClient implements llm.Client for testing
type MockClient struct {
	mu sync.Mutex

	// StreamFunc allows customizing the streaming behavior
	StreamFunc func(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error)

	// ChatFunc allows customizing the non-streaming behavior
	ChatFunc func(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.ChatResponse, error)

	// Tracking for assertions
	StreamCalls []llm.ChatRequest
	ChatCalls   []llm.ChatRequest
	APIKeys     []string
}

// Ensure MockClient implements llm.Client
var _ llm.Client = (*MockClient)(nil)

// NewMockClient creates a new mock client with default behavior
func NewMockClient() *MockClient {
	return &MockClient{
		StreamCalls: make([]llm.ChatRequest, 0),
		ChatCalls:   make([]llm.ChatRequest, 0),
	}
}

// FragmentStream returns a stream that emits fragments in order, then ends
// with err (nil for a clean end-of-stream).
func FragmentStream(ctx context.Context, err error, fragments ...string) *llm.Stream {
	return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
		for _, f := range fragments {
			if !emit(llm.TextChunk(f)) {
				return nil
			}
		}
		return err
	})
}

// StreamChatCompletion implements llm.Client.StreamChatCompletion
func (m *MockClient) StreamChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	m.APIKeys = append(m.APIKeys, apiKey)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, apiKey, req)
	}

	return FragmentStream(ctx, nil, "This is ", "a mock response."), nil
}

// ChatCompletion implements llm.Client.ChatCompletion
func (m *MockClient) ChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, req)
	m.APIKeys = append(m.APIKeys, apiKey)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, apiKey, req)
	}

	return &llm.ChatResponse{
		ID:      "mock-response-1",
		Object:  "chat.completion",
		Created: 1234567890,
		Model:   req.Model,
		Choices: []llm.ResponseChoice{
			{
				Message:      llm.ResponseMessage{Role: "assistant", Content: "This is a mock response."},
				FinishReason: "stop",
			},
		},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// Reset clears the call history
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StreamCalls = make([]llm.ChatRequest, 0)
	m.ChatCalls = make([]llm.ChatRequest, 0)
	m.APIKeys = nil
}

// GetStreamCallCount returns the number of stream calls made
func (m *MockClient) GetStreamCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.StreamCalls)
}

// GetChatCallCount returns the number of chat calls made
func (m *MockClient) GetChatCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls)
}

// GetAPIKeys returns the keys passed to each call, in call order
func (m *MockClient) GetAPIKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.APIKeys...)
}
