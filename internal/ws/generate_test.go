package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/latex-ai/latex-ai-be/internal/keys"
	"github.com/latex-ai/latex-ai-be/internal/relay"
	"github.com/latex-ai/latex-ai-be/internal/retry"
	"github.com/latex-ai/latex-ai-be/pkg/groq"
	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

const testOrigin = "http://localhost:5173"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mock *groq.MockClient, cfg Config) *httptest.Server {
	t.Helper()

	rot, err := keys.NewRotator([]string{"gsk_ws_test"})
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	r := relay.New(relay.Deps{
		Client:  mock,
		Rotator: rot,
		Config:  relay.Config{Retry: retry.Policy{MaxAttempts: 1}},
	})

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{testOrigin}
	}
	router := gin.New()
	router.GET("/ws/generate", NewHandler(r, nil, cfg).HandleGenerate)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/generate"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilEnd collects frames until a done or error frame
func readUntilEnd(t *testing.T, conn *websocket.Conn) []OutgoingMessage {
	t.Helper()
	var frames []OutgoingMessage
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg OutgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (frames so far: %+v)", err, frames)
		}
		frames = append(frames, msg)
		if msg.Type == TypeDone || msg.Type == TypeError {
			return frames
		}
	}
}

func TestHandleGenerate_StreamsThenDone(t *testing.T) {
	mock := groq.NewMockClient()
	mock.StreamFunc = func(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
		return groq.FragmentStream(ctx, nil, "Merge ", "", "sort"), nil
	}
	srv := newTestServer(t, mock, Config{})
	conn := dial(t, srv, testOrigin)

	if err := conn.WriteJSON(IncomingMessage{Question: "Sort?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames := readUntilEnd(t, conn)

	want := []OutgoingMessage{
		{Type: TypeMessage, Content: "Merge "},
		{Type: TypeMessage, Content: "sort"},
		{Type: TypeDone},
	}
	if len(frames) != len(want) {
		t.Fatalf("frames = %+v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, frames[i], want[i])
		}
	}
}

func TestHandleGenerate_MultipleRequestsOnOneConnection(t *testing.T) {
	mock := groq.NewMockClient()
	srv := newTestServer(t, mock, Config{})
	conn := dial(t, srv, "")

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(IncomingMessage{Question: "q"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		frames := readUntilEnd(t, conn)
		if frames[len(frames)-1].Type != TypeDone {
			t.Fatalf("request %d ended with %+v", i, frames[len(frames)-1])
		}
	}
	if mock.GetStreamCallCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", mock.GetStreamCallCount())
	}
}

func TestHandleGenerate_Errors(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		streamErr   error
		midStream   bool
		wantContent string
		wantCalls   int
	}{
		{name: "validation", payload: `{"question":"  "}`, wantContent: "Question is required"},
		{name: "invalid json", payload: `not json`, wantContent: "Invalid request body"},
		{name: "upstream failure", payload: `{"question":"q"}`, streamErr: errors.New("refused"), wantContent: "Failed to generate solution", wantCalls: 1},
		{name: "mid-stream failure", payload: `{"question":"q"}`, midStream: true, wantContent: "The solution was interrupted. Please try again.", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := groq.NewMockClient()
			mock.StreamFunc = func(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
				if tt.streamErr != nil {
					return nil, tt.streamErr
				}
				if tt.midStream {
					return groq.FragmentStream(ctx, errors.New("reset"), "partial"), nil
				}
				return groq.FragmentStream(ctx, nil, "ok"), nil
			}
			srv := newTestServer(t, mock, Config{})
			conn := dial(t, srv, testOrigin)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			frames := readUntilEnd(t, conn)
			last := frames[len(frames)-1]

			if last.Type != TypeError || last.Content != tt.wantContent {
				t.Errorf("last frame = %+v, want error %q", last, tt.wantContent)
			}
			if mock.GetStreamCallCount() != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", mock.GetStreamCallCount(), tt.wantCalls)
			}
		})
	}
}

func TestHandleGenerate_RejectsOrigin(t *testing.T) {
	srv := newTestServer(t, groq.NewMockClient(), Config{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/generate"

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v, want 403", resp)
	}
}

func TestHandleGenerate_RateLimited(t *testing.T) {
	mock := groq.NewMockClient()
	srv := newTestServer(t, mock, Config{MessagesPerMinute: 60, MessageBurst: 1})
	conn := dial(t, srv, testOrigin)

	for _, q := range []string{"first", "second"} {
		if err := conn.WriteJSON(IncomingMessage{Question: q}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	first := readUntilEnd(t, conn)
	if first[len(first)-1].Type != TypeDone {
		t.Fatalf("first request ended with %+v", first[len(first)-1])
	}
	second := readUntilEnd(t, conn)
	if second[0].Type != TypeError || second[0].Action != "retry_later" {
		t.Errorf("second request frames = %+v", second)
	}
	if mock.GetStreamCallCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", mock.GetStreamCallCount())
	}
}

func TestHandleGenerate_DisconnectCancelsGeneration(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	mock := groq.NewMockClient()
	mock.StreamFunc = func(ctx context.Context, apiKey string, req llm.ChatRequest) (*llm.Stream, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}
	srv := newTestServer(t, mock, Config{})
	conn := dial(t, srv, testOrigin)

	if err := conn.WriteJSON(IncomingMessage{Question: "Slow upstream"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream was never called")
	}

	conn.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("generation was not cancelled after the client disconnected")
	}
}
