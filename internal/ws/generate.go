// Package ws serves solution generation over WebSocket. Unlike the plain
// HTTP stream, every generation ends with an explicit done or error frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/latex-ai/latex-ai-be/internal/api/middleware"
	"github.com/latex-ai/latex-ai-be/internal/fallback"
	"github.com/latex-ai/latex-ai-be/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	// maxPending bounds requests read ahead while a generation runs
	maxPending = 4
)

// Frame types sent to the client
const (
	TypeMessage = "message"
	TypeDone    = "done"
	TypeError   = "error"
)

// IncomingMessage represents a generation request from the client
type IncomingMessage struct {
	Question string `json:"question"`
	Seed     *int   `json:"seed,omitempty"`
}

// OutgoingMessage represents a frame sent to the client
type OutgoingMessage struct {
	Type    string `json:"type"` // "message", "done", "error"
	Content string `json:"content,omitempty"`
	Action  string `json:"action,omitempty"`
}

// Config tunes the WebSocket handler
type Config struct {
	AllowedOrigins    []string
	MessagesPerMinute float64
	MessageBurst      int
}

// Handler handles WebSocket generation connections
type Handler struct {
	relay    *relay.Relay
	logger   *zap.Logger
	upgrader websocket.Upgrader
	cfg      Config
}

// NewHandler creates a new WebSocket handler
func NewHandler(r *relay.Relay, logger *zap.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	return &Handler{
		relay:  r,
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
			},
		},
	}
}

// HandleGenerate serves one connection. Requests on a connection are
// handled one at a time. A dedicated reader notices the client going away
// and cancels the generation in flight.
// GET /ws/generate
func (h *Handler) HandleGenerate(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	incoming := make(chan []byte, maxPending)
	go h.readLoop(ctx, cancel, conn, incoming)

	limiter := middleware.NewWebSocketLimiter(h.cfg.MessagesPerMinute, h.cfg.MessageBurst)

	h.logger.Debug("websocket connected", zap.String("ip", c.ClientIP()))

	for data := range incoming {
		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := send(conn, OutgoingMessage{Type: TypeError, Content: "Invalid request body"}); err != nil {
				return
			}
			continue
		}

		if !limiter.Allow() {
			if err := send(conn, OutgoingMessage{Type: TypeError, Content: "Rate limit exceeded. Please try again later.", Action: "retry_later"}); err != nil {
				return
			}
			continue
		}

		if !h.generate(ctx, conn, msg) {
			return
		}
	}
}

// readLoop is the connection's only reader. It cancels ctx once the client
// is gone and closes incoming on exit.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, incoming chan<- []byte) {
	defer close(incoming)
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		select {
		case incoming <- data:
		case <-ctx.Done():
			return
		}
	}
}

// generate runs one request and reports whether the connection is still
// usable
func (h *Handler) generate(ctx context.Context, conn *websocket.Conn, msg IncomingMessage) bool {
	out := h.relay.Generate(ctx, relay.Request{
		Question: msg.Question,
		Seed:     msg.Seed,
		Source:   "ws",
	}, &sink{conn: conn})

	var frame OutgoingMessage
	switch out.State {
	case relay.StateCompleted:
		return true
	case relay.StateAbandoned:
		return false
	case relay.StateFailedMidStream:
		fb := fallback.Interrupted()
		frame = OutgoingMessage{Type: TypeError, Content: fb.Content, Action: fb.Action}
	default:
		var ve *relay.ValidationError
		if errors.As(out.Err, &ve) {
			frame = OutgoingMessage{Type: TypeError, Content: ve.Message}
		} else {
			fb := fallback.ForError(out.Err)
			frame = OutgoingMessage{Type: TypeError, Content: fb.Content, Action: fb.Action}
		}
	}

	return send(conn, frame) == nil
}

// sink forwards fragments as message frames and finishes with a done frame
type sink struct {
	conn *websocket.Conn
}

func (s *sink) Write(fragment string) error {
	return send(s.conn, OutgoingMessage{Type: TypeMessage, Content: fragment})
}

func (s *sink) Close() error {
	return send(s.conn, OutgoingMessage{Type: TypeDone})
}

func send(conn *websocket.Conn, msg OutgoingMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
