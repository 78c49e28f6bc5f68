package groq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

func collect(s *llm.Stream) ([]llm.ChatChunk, error) {
	chunks := make([]llm.ChatChunk, 0)
	for chunk := range s.Chunks() {
		chunks = append(chunks, chunk)
	}
	return chunks, s.Err()
}

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantBaseURL string
		wantModel   string
		wantTimeout time.Duration
	}{
		{
			name:        "default configuration",
			config:      Config{},
			wantBaseURL: "https://api.groq.com/openai/v1",
			wantModel:   "llama3-70b-8192",
			wantTimeout: 30 * time.Second,
		},
		{
			name: "custom configuration",
			config: Config{
				BaseURL: "https://custom.api.com/",
				Model:   "custom-model",
				Timeout: 60 * time.Second,
			},
			wantBaseURL: "https://custom.api.com",
			wantModel:   "custom-model",
			wantTimeout: 60 * time.Second,
		},
		{
			name:        "partial custom configuration",
			config:      Config{Model: "mixtral-8x7b-32768"},
			wantBaseURL: "https://api.groq.com/openai/v1",
			wantModel:   "mixtral-8x7b-32768",
			wantTimeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(tt.config)

			if client.baseURL != tt.wantBaseURL {
				t.Errorf("baseURL = %v, want %v", client.baseURL, tt.wantBaseURL)
			}
			if client.Model() != tt.wantModel {
				t.Errorf("model = %v, want %v", client.Model(), tt.wantModel)
			}
			if client.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", client.timeout, tt.wantTimeout)
			}
			if client.httpClient.Timeout != 0 {
				t.Errorf("httpClient.Timeout = %v, streaming needs no overall timeout", client.httpClient.Timeout)
			}
		})
	}
}

func TestHTTPClient_StreamChatCompletion(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse string
		statusCode     int
		wantOpenError  bool
		wantRateLimit  bool
		wantStreamErr  error
		wantText       string
	}{
		{
			name:       "successful streaming",
			statusCode: http.StatusOK,
			serverResponse: `data: {"id":"chunk1","object":"chat.completion.chunk","created":1234567890,"model":"llama3-70b-8192","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"chunk2","object":"chat.completion.chunk","created":1234567890,"model":"llama3-70b-8192","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}

data: [DONE]

`,
			wantText: "Hello world",
		},
		{
			name:           "empty response handling",
			statusCode:     http.StatusOK,
			serverResponse: "data: [DONE]\n\n",
			wantText:       "",
		},
		{
			name:           "rate limited",
			statusCode:     http.StatusTooManyRequests,
			serverResponse: `{"error":{"message":"Rate limit reached"}}`,
			wantOpenError:  true,
			wantRateLimit:  true,
		},
		{
			name:           "API error response",
			statusCode:     http.StatusUnauthorized,
			serverResponse: `{"error": "Invalid API key"}`,
			wantOpenError:  true,
		},
		{
			name:       "malformed JSON handling",
			statusCode: http.StatusOK,
			serverResponse: `data: invalid json

data: {"id":"chunk1","object":"chat.completion.chunk","created":1234567890,"model":"llama3-70b-8192","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: [DONE]

`,
			wantText: "Hello",
		},
		{
			name:       "missing done marker",
			statusCode: http.StatusOK,
			serverResponse: `data: {"id":"chunk1","choices":[{"index":0,"delta":{"content":"Hel"}}]}

`,
			wantStreamErr: llm.ErrStreamTruncated,
			wantText:      "Hel",
		},
		{
			name:           "CRLF line endings",
			statusCode:     http.StatusOK,
			serverResponse: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n\r\ndata:{\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\r\n\r\ndata: [DONE]\r\n\r\n",
			wantText:       "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST request, got %s", r.Method)
				}
				if r.URL.Path != "/chat/completions" {
					t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
				}
				if r.Header.Get("Authorization") != "Bearer test-api-key" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}

				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.serverResponse))
			}))
			defer server.Close()

			client := NewHTTPClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})

			req := llm.ChatRequest{Messages: []llm.ChatMessage{{Role: "user", Content: "Hello"}}}
			stream, err := client.StreamChatCompletion(context.Background(), "test-api-key", req)

			if tt.wantOpenError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if llm.IsRateLimited(err) != tt.wantRateLimit {
					t.Errorf("IsRateLimited = %v, want %v (err=%v)", llm.IsRateLimited(err), tt.wantRateLimit, err)
				}
				ae, ok := llm.AsAPIError(err)
				if !ok || ae.StatusCode != tt.statusCode {
					t.Errorf("expected APIError with status %d, got %v", tt.statusCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("StreamChatCompletion() error = %v", err)
			}
			defer stream.Close()

			chunks, streamErr := collect(stream)
			if !errors.Is(streamErr, tt.wantStreamErr) {
				t.Errorf("stream error = %v, want %v", streamErr, tt.wantStreamErr)
			}

			var text strings.Builder
			for _, c := range chunks {
				text.WriteString(c.Text())
			}
			if text.String() != tt.wantText {
				t.Errorf("text = %q, want %q", text.String(), tt.wantText)
			}
		})
	}
}

func TestHTTPClient_StreamChatCompletion_RequestBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "custom-default-model"})

	zero := 0.0
	stream, err := client.StreamChatCompletion(context.Background(), "k", llm.ChatRequest{
		Messages:    []llm.ChatMessage{{Role: "user", Content: "test"}},
		Temperature: &zero,
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	collect(stream)

	if !strings.Contains(gotBody, `"temperature":0`) {
		t.Errorf("request body should carry an explicit zero temperature: %s", gotBody)
	}

	if !strings.Contains(gotBody, `"model":"custom-default-model"`) {
		t.Errorf("request body missing default model: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"stream":true`) {
		t.Errorf("request body missing stream flag: %s", gotBody)
	}
}

func TestHTTPClient_StreamChatCompletion_RateLimitRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL})
	_, err := client.StreamChatCompletion(context.Background(), "k", llm.ChatRequest{})

	ae, ok := llm.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", ae.RetryAfter)
	}
}

func TestHTTPClient_StreamChatCompletion_Close(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`data: {"id":"chunk1","choices":[{"index":0,"delta":{"content":"Hello"}}]}` + "\n\n"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(Config{BaseURL: server.URL, Timeout: 10 * time.Second})

	stream, err := client.StreamChatCompletion(context.Background(), "k", llm.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}

	chunk := <-stream.Chunks()
	if chunk.Text() != "Hello" {
		t.Fatalf("first chunk = %q, want Hello", chunk.Text())
	}

	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abandon the upstream read")
	}

	if _, ok := <-stream.Chunks(); ok {
		t.Error("expected closed channel after Close")
	}
}

func TestHTTPClient_StreamChatCompletion_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`data: {"id":"chunk1","choices":[{"index":0,"delta":{"content":"Hello"}}]}` + "\n\n"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		time.Sleep(2 * time.Second)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Timeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())

	stream, err := client.StreamChatCompletion(ctx, "k", llm.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	defer stream.Close()

	<-stream.Chunks()
	cancel()

	remaining := 0
	for range stream.Chunks() {
		remaining++
	}
	if remaining != 0 {
		t.Errorf("Expected no chunks after cancellation, got %d", remaining)
	}
	if stream.Err() == nil {
		t.Error("Expected an error after cancellation")
	}
}

func TestHTTPClient_ChatCompletion(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse string
		statusCode     int
		wantError      bool
		wantContent    string
	}{
		{
			name:       "successful completion",
			statusCode: http.StatusOK,
			serverResponse: `{
				"id": "chatcmpl-123",
				"object": "chat.completion",
				"created": 1234567890,
				"model": "llama3-70b-8192",
				"choices": [{
					"index": 0,
					"message": {"role": "assistant", "content": "  \\begin{solution} x \\end{solution}\n"},
					"finish_reason": "stop"
				}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
			}`,
			wantContent: `\begin{solution} x \end{solution}`,
		},
		{
			name:           "API error response",
			statusCode:     http.StatusBadRequest,
			serverResponse: `{"error": "Invalid request"}`,
			wantError:      true,
		},
		{
			name:           "malformed JSON response",
			statusCode:     http.StatusOK,
			serverResponse: `{invalid json}`,
			wantError:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
					t.Errorf("Expected Authorization header with Bearer token")
				}
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.serverResponse))
			}))
			defer server.Close()

			client := NewHTTPClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})

			resp, err := client.ChatCompletion(context.Background(), "test-api-key", llm.ChatRequest{
				Messages: []llm.ChatMessage{{Role: "user", Content: "Hello"}},
			})

			if tt.wantError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ChatCompletion() error = %v", err)
			}
			if resp.Content() != tt.wantContent {
				t.Errorf("Content() = %q, want %q", resp.Content(), tt.wantContent)
			}
			if resp.Usage.TotalTokens != 18 {
				t.Errorf("TotalTokens = %v, want 18", resp.Usage.TotalTokens)
			}
		})
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	client := NewHTTPClient(Config{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 1 * time.Second,
	})

	req := llm.ChatRequest{Messages: []llm.ChatMessage{{Role: "user", Content: "test"}}}

	t.Run("StreamChatCompletion network error", func(t *testing.T) {
		_, err := client.StreamChatCompletion(context.Background(), "k", req)
		if err == nil {
			t.Error("Expected network error, got nil")
		}
		if llm.IsRateLimited(err) {
			t.Error("network error must not be classified as rate limited")
		}
	})

	t.Run("ChatCompletion network error", func(t *testing.T) {
		_, err := client.ChatCompletion(context.Background(), "k", req)
		if err == nil {
			t.Error("Expected network error, got nil")
		}
	})
}

func TestHTTPClient_EmptyLinesInStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		response := "\n\nnot-data: ignored\n\ndata: {\"id\":\"chunk1\",\"object\":\"chat.completion.chunk\",\"created\":1234567890,\"model\":\"llama3-70b-8192\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"test\"},\"finish_reason\":null}]}\n\ndata: [DONE]\n\n"
		w.Write([]byte(response))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL})

	stream, err := client.StreamChatCompletion(context.Background(), "k", llm.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}

	chunks, err := collect(stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ID != "chunk1" {
		t.Errorf("Expected chunk ID 'chunk1', got %s", chunks[0].ID)
	}
}

func BenchmarkHTTPClient_StreamChatCompletion(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `data: {"id":"chunk%d","object":"chat.completion.chunk","created":1234567890,"model":"llama3-70b-8192","choices":[{"index":0,"delta":{"content":"word"},"finish_reason":null}]}`+"\n\n", i)
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stream, err := client.StreamChatCompletion(context.Background(), "k", llm.ChatRequest{})
		if err != nil {
			b.Fatal(err)
		}
		for range stream.Chunks() {
		}
		stream.Close()
	}
}
