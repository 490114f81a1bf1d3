package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/models"
)

// TokenVerifier validates a bearer token and resolves it to a user.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// Auth rejects requests without a valid bearer token and stores the resolved
// identity on the request context under "userID" and "username".
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)

		user, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			reason := "authentication failed"
			if ue, ok := models.AsUnauthorized(err); ok {
				reason = ue.Reason
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": reason,
			})
			return
		}

		c.Set("userID", user.ID)
		c.Set("username", user.Username)
		c.Next()
	}
}

// ExtractToken pulls the bearer token from the Authorization header or, for
// WebSocket handshakes, the token query parameter.
func ExtractToken(r *http.Request) string {
	// Try Authorization header first
	bearerToken := r.Header.Get("Authorization")
	if strings.HasPrefix(bearerToken, "Bearer ") {
		return strings.TrimPrefix(bearerToken, "Bearer ")
	}

	// For WebSocket connections, check query parameter
	return r.URL.Query().Get("token")
}
