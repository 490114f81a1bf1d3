package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/services"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthCheck handles GET /health
func HealthCheck(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "healthy",
			Service:     "chat-service",
			Connections: hub.SessionCount(),
			Timestamp:   time.Now(),
		})
	}
}
