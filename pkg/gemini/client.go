package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

const providerName = "gemini"

// HTTPClient implements the llm.Client interface for Gemini using REST API
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// Ensure HTTPClient implements llm.Client
var _ llm.Client = (*HTTPClient)(nil)

// Config holds configuration for the Gemini client
type Config struct {
	BaseURL string        // Default: https://generativelanguage.googleapis.com/v1beta/models
	Model   string        // Default: gemini-2.0-flash
	Timeout time.Duration // Default: 30s, bounds connection setup and response headers
}

// NewHTTPClient creates a new Gemini HTTP client
func NewHTTPClient(config Config) *HTTPClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

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
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		model:      config.Model,
		httpClient: &http.Client{Transport: transport},
		timeout:    config.Timeout,
	}
}

// Model returns the default model identifier
func (c *HTTPClient) Model() string {
	return c.model
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// text joins all parts of the first candidate
func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// toGeminiRequest maps system messages onto systemInstruction and
// assistant messages onto the "model" role
func toGeminiRequest(req llm.ChatRequest) geminiRequest {
	out := geminiRequest{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	var system []geminiPart
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, geminiPart{Text: msg.Content})
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Parts: system}
	}
	return out
}

// StreamChatCompletion implements llm.Client.StreamChatCompletion
func (c *HTTPClient) StreamChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
	reqCtx, cancelReq := context.WithCancel(ctx)

	resp, err := c.do(reqCtx, c.endpoint(req.Model, "streamGenerateContent", apiKey, true), req)
	if err != nil {
		cancelReq()
		return nil, err
	}

	model := c.modelFor(req)
	return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
		defer cancelReq()
		defer resp.Body.Close()

		stop := context.AfterFunc(ctx, cancelReq)
		defer stop()

		finished := false
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read stream: %w", err)
			}

			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))

				var gResp geminiResponse
				if jsonErr := json.Unmarshal([]byte(data), &gResp); jsonErr == nil && len(gResp.Candidates) > 0 {
					chunk := llm.TextChunk(gResp.text())
					chunk.Model = model
					if fr := gResp.Candidates[0].FinishReason; fr != "" {
						chunk.Choices[0].FinishReason = &fr
						finished = true
					}
					if !emit(chunk) {
						return nil
					}
				}
			}

			// Gemini has no [DONE] marker; the last candidate carries a finishReason.
			if err == io.EOF {
				if !finished {
					return llm.ErrStreamTruncated
				}
				return nil
			}
		}
	}), nil
}

// ChatCompletion implements llm.Client.ChatCompletion
func (c *HTTPClient) ChatCompletion(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.do(ctx, c.endpoint(req.Model, "generateContent", apiKey, false), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	finishReason := ""
	if len(gResp.Candidates) > 0 {
		finishReason = gResp.Candidates[0].FinishReason
	}

	return &llm.ChatResponse{
		Object: "chat.completion",
		Model:  c.modelFor(req),
		Choices: []llm.ResponseChoice{
			{
				Message:      llm.ResponseMessage{Role: "assistant", Content: gResp.text()},
				FinishReason: finishReason,
			},
		},
		Usage: llm.Usage{
			PromptTokens:     gResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: gResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (c *HTTPClient) modelFor(req llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *HTTPClient) endpoint(model, method, apiKey string, sse bool) string {
	if model == "" {
		model = c.model
	}
	q := url.Values{}
	q.Set("key", apiKey)
	if sse {
		q.Set("alt", "sse")
	}
	return fmt.Sprintf("%s/%s:%s?%s", c.baseURL, model, method, q.Encode())
}

func (c *HTTPClient) do(ctx context.Context, endpoint string, req llm.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// url.Error embeds the endpoint, which carries the key
		return nil, fmt.Errorf("failed to execute request: %w", redactKey(err))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, llm.NewAPIError(providerName, resp, body)
	}

	return resp, nil
}

func redactKey(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return &url.Error{Op: ue.Op, URL: stripQuery(ue.URL), Err: ue.Err}
	}
	return err
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
