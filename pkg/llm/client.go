package llm

import (
	"context"
)

// Client interface for LLM API interactions. The API key is supplied per call
// so that callers can rotate credentials.
type Client interface {
	// StreamChatCompletion opens a streaming chat completion. A nil error means
	// the upstream accepted the request; fragments are read from the Stream.
	StreamChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*Stream, error)

	// ChatCompletion sends a non-streaming chat completion request
	ChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error)
}
