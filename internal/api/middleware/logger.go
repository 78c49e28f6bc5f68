package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/latex-ai/latex-ai-be/internal/privacy"
)

// Logger logs one line per request. Streaming requests are logged when the
// stream ends, including streams aborted with a panic.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		defer func() {
			fields := []zap.Field{
				zap.Int("status", c.Writer.Status()),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("ip", c.ClientIP()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", c.Writer.Size()),
			}
			if q := c.Request.URL.RawQuery; q != "" {
				fields = append(fields, zap.String("query", privacy.RedactSecrets(q)))
			}
			if len(c.Errors) > 0 {
				fields = append(fields, zap.String("errors", c.Errors.String()))
			}

			if rec := recover(); rec != nil {
				logger.Warn("request aborted", append(fields, zap.Any("panic", rec))...)
				panic(rec)
			}

			status := c.Writer.Status()
			switch {
			case status >= 500:
				logger.Error("request", fields...)
			case status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		}()

		c.Next()
	}
}
