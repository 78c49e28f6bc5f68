package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latex-ai/latex-ai-be/internal/fallback"
	"github.com/latex-ai/latex-ai-be/internal/relay"
)

// GenerateHandler serves solution generation over plain HTTP
type GenerateHandler struct {
	relay *relay.Relay
}

// NewGenerateHandler creates a new generate handler
func NewGenerateHandler(r *relay.Relay) *GenerateHandler {
	return &GenerateHandler{relay: r}
}

// Generate streams the solution as a raw text body
// POST /api/generate
func (h *GenerateHandler) Generate(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	sink := newStreamSink(c.Writer)
	out := h.relay.Generate(c.Request.Context(), req, sink)

	switch out.State {
	case relay.StateCompleted:
		return

	case relay.StateFailedMidStream:
		// Headers are already sent; dropping the connection is the only
		// way left to tell the client the body is incomplete.
		panic(http.ErrAbortHandler)

	case relay.StateAbandoned:
		if sink.started {
			panic(http.ErrAbortHandler)
		}
		c.Abort()
		return
	}

	if sink.started {
		panic(http.ErrAbortHandler)
	}
	writeFailure(c, out)
}

// Solve returns the whole solution in one JSON response
// POST /api/solve
func (h *GenerateHandler) Solve(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	solution, out := h.relay.Solve(c.Request.Context(), req)

	switch out.State {
	case relay.StateCompleted:
		c.JSON(http.StatusOK, gin.H{
			"question": req.Question,
			"solution": solution,
		})
	case relay.StateAbandoned:
		c.Abort()
	default:
		writeFailure(c, out)
	}
}

// bindRequest decodes the JSON body. An empty body is treated as an empty
// request so that validation reports the missing question.
func bindRequest(c *gin.Context) (relay.Request, bool) {
	var req relay.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return req, false
	}
	req.Source = "http"
	return req, true
}

func writeFailure(c *gin.Context, out relay.Outcome) {
	var ve *relay.ValidationError
	if errors.As(out.Err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, fallback.ForError(out.Err))
}
