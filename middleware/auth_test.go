package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/chat-service/models"
)

type fakeVerifier struct {
	user  *models.User
	token string
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrMissingToken
	}
	if token != f.token {
		return nil, models.ErrTokenInvalid
	}
	return f.user, nil
}

func newAuthRouter(verifier TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", Auth(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId":   c.MustGet("userID").(uuid.UUID),
			"username": c.MustGet("username").(string),
		})
	})
	return router
}

func TestAuthRejectsMissingToken(t *testing.T) {
	router := newAuthRouter(&fakeVerifier{token: "good"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "missing token", body["error"])
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	router := newAuthRouter(&fakeVerifier{token: "good"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAttachesIdentity(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "alice"}
	router := newAuthRouter(&fakeVerifier{user: user, token: "good"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, user.ID.String(), body["userId"])
	assert.Equal(t, "alice", body["username"])
}

func TestExtractTokenFromQueryParam(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "alice"}
	router := newAuthRouter(&fakeVerifier{user: user, token: "good"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected?token=good", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
