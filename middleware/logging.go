package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/utils"
)

// Logger logs every request with method, path, status, and latency.
func Logger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}
