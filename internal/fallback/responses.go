// Package fallback chooses the message shown to a client when a solution
// could not be generated.
package fallback

import (
	"errors"

	"github.com/latex-ai/latex-ai-be/internal/circuitbreaker"
	"github.com/latex-ai/latex-ai-be/internal/retry"
)

// Response represents a fallback response
type Response struct {
	Content string `json:"error"`
	Action  string `json:"action"` // "retry" or "retry_later"
}

var (
	generic = Response{
		Content: "Failed to generate solution",
		Action:  "retry",
	}

	busy = Response{
		Content: "The solver is busy right now. Please try again in a few seconds.",
		Action:  "retry",
	}

	unavailable = Response{
		Content: "The solver is temporarily unavailable. Please try again in a minute.",
		Action:  "retry_later",
	}

	interrupted = Response{
		Content: "The solution was interrupted. Please try again.",
		Action:  "retry",
	}
)

// ForError returns the client-facing response for a failed generation
func ForError(err error) Response {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return unavailable
	case errors.Is(err, retry.ErrRetriesExhausted):
		return busy
	default:
		return generic
	}
}

// Interrupted is sent when the upstream failed after part of the solution
// was delivered
func Interrupted() Response {
	return interrupted
}
