// Package api wires the HTTP routes of the relay
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/latex-ai/latex-ai-be/internal/api/middleware"
)

// RouterConfig holds what NewRouter needs
type RouterConfig struct {
	Logger             *zap.Logger
	AllowedOrigins     []string
	TrustedProxies     []string
	RateLimitPerMinute float64
	RateLimitBurst     int

	Generate  *GenerateHandler
	Stats     *StatsHandler
	WebSocket gin.HandlerFunc
}

// NewRouter builds the gin engine with middleware and routes. Client IPs come
// from X-Forwarded-For only when the peer is one of cfg.TrustedProxies.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health is exempt from rate limiting
	router.GET("/api/health", Health)

	limit := middleware.PerIP(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	apiGroup := router.Group("/api")
	apiGroup.Use(limit)
	{
		apiGroup.POST("/generate", cfg.Generate.Generate)
		apiGroup.POST("/solve", cfg.Generate.Solve)
		if cfg.Stats != nil {
			apiGroup.GET("/stats", cfg.Stats.GetStats)
		}
	}

	if cfg.WebSocket != nil {
		router.GET("/ws/generate", limit, cfg.WebSocket)
	}

	return router, nil
}
