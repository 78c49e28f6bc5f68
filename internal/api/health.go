package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latex-ai/latex-ai-be/internal/circuitbreaker"
	"github.com/latex-ai/latex-ai-be/internal/store"
)

// Health always reports ok while the process is serving
// GET /api/health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatsHandler reports aggregated generation outcomes
type StatsHandler struct {
	store       store.Store
	breaker     *circuitbreaker.CircuitBreaker
	credentials int
	now         func() time.Time
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(s store.Store, breaker *circuitbreaker.CircuitBreaker, credentials int) *StatsHandler {
	return &StatsHandler{
		store:       s,
		breaker:     breaker,
		credentials: credentials,
		now:         time.Now,
	}
}

// GetStats returns generation counts by state for a trailing window
// GET /api/stats?window=24h
func (h *StatsHandler) GetStats(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "24h"))
	if err != nil || window <= 0 || window > 30*24*time.Hour {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration up to 720h"})
		return
	}

	stats, err := h.store.Stats(c.Request.Context(), h.now().Add(-window))
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve stats"})
		return
	}

	state, failures := h.breaker.Stats()
	c.JSON(http.StatusOK, gin.H{
		"window":      window.String(),
		"generations": stats,
		"circuit": gin.H{
			"state":    state.String(),
			"failures": failures,
		},
		"credentials": h.credentials,
	})
}
