package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

const (
	providerName = "groq"

	// maxLineSize bounds a single SSE line
	maxLineSize = 1 << 20
)

// HTTPClient implements the llm.Client interface for the OpenAI-compatible
// Groq chat completions API
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// Ensure HTTPClient implements llm.Client
var _ llm.Client = (*HTTPClient)(nil)

// Config holds configuration for the Groq client
type Config struct {
	BaseURL string        // Default: https://api.groq.com/openai/v1
	Model   string        // Default: llama3-70b-8192
	Timeout time.Duration // Default: 30s, bounds connection setup and response headers
}

// NewHTTPClient creates a new Groq HTTP client
func NewHTTPClient(config Config) *HTTPClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.groq.com/openai/v1"
	}
	if config.Model == "" {
		config.Model = "llama3-70b-8192"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	// No overall client timeout: a streamed answer may take minutes.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		httpClient: &http.Client{
			Transport: transport,
		},
		timeout: config.Timeout,
	}
}

// Model returns the default model identifier
func (c *HTTPClient) Model() string {
	return c.model
}

// StreamChatCompletion implements llm.Client.StreamChatCompletion
func (c *HTTPClient) StreamChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true

	reqCtx, cancelReq := context.WithCancel(ctx)

	resp, err := c.do(reqCtx, apiKey, req)
	if err != nil {
		cancelReq()
		return nil, err
	}

	return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
		defer cancelReq()
		defer resp.Body.Close()

		// Abandoning the stream aborts the in-flight body read.
		stop := context.AfterFunc(ctx, cancelReq)
		defer stop()

		return readEvents(resp.Body, emit)
	}), nil
}

// readEvents parses "data:" lines until the [DONE] marker
func readEvents(body io.Reader, emit llm.Emit) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk llm.ChatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed events
			continue
		}

		if !emit(chunk) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return llm.ErrStreamTruncated
}

// ChatCompletion implements llm.Client.ChatCompletion
func (c *HTTPClient) ChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = false

	resp, err := c.do(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp llm.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &chatResp, nil
}

// do sends the request and returns the response when the status is 200.
// Non-200 responses are turned into *llm.APIError.
func (c *HTTPClient) do(ctx context.Context, apiKey string, req llm.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, llm.NewAPIError(providerName, resp, body)
	}

	return resp, nil
}
