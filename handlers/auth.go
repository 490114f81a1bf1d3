package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"chorus/chat-service/models"
	"chorus/chat-service/services"
	"chorus/chat-service/utils"
)

type AuthHandler struct {
	store    services.Store
	verifier *services.Verifier
	tokenTTL time.Duration
	logger   *utils.Logger
}

func NewAuthHandler(store services.Store, verifier *services.Verifier, tokenTTL time.Duration, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{
		store:    store,
		verifier: verifier,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Username and password are required",
		})
		return
	}

	if _, err := h.store.UserByName(c.Request.Context(), req.Username); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Username already exists",
		})
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		h.logger.Error("Failed to check username", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Registration failed",
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Registration failed",
		})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), req.Username, string(hash))
	if err != nil {
		h.logger.Error("Failed to create user", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Registration failed",
		})
		return
	}

	token, err := h.verifier.Issue(user, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue token", "userId", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Registration failed",
		})
		return
	}

	h.logger.Info("User registered", "userId", user.ID, "username", user.Username)
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"token":   token,
		"user":    user.Public(),
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Username and password are required",
		})
		return
	}

	user, err := h.store.UserByName(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("Failed to fetch user", "username", req.Username, "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	token, err := h.verifier.Issue(user, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue token", "userId", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Login failed",
		})
		return
	}

	h.logger.Info("User logged in", "userId", user.ID, "username", user.Username)
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user":    user.Public(),
	})
}
