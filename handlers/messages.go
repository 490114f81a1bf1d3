package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chorus/chat-service/models"
	"chorus/chat-service/services"
	"chorus/chat-service/utils"
)

type MessageHandler struct {
	store  services.Store
	cache  *services.PresenceCache
	logger *utils.Logger
}

func NewMessageHandler(store services.Store, cache *services.PresenceCache, logger *utils.Logger) *MessageHandler {
	return &MessageHandler{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// History handles GET /api/messages/history/:userId
func (h *MessageHandler) History(c *gin.Context) {
	selfID := c.MustGet("userID").(uuid.UUID)

	peerID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	if _, err := h.store.UserByID(c.Request.Context(), peerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}
		h.logger.Error("Failed to fetch user", "userId", peerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch chat history",
		})
		return
	}

	messages, err := h.store.History(c.Request.Context(), selfID, peerID)
	if err != nil {
		h.logger.Error("Failed to fetch history", "userId", selfID, "peerId", peerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch chat history",
		})
		return
	}

	// Loading the conversation counts as reading it; unread counts on the
	// conversation list depend on this flip.
	if err := h.store.MarkRead(c.Request.Context(), selfID, peerID); err != nil {
		h.logger.Error("Failed to mark messages read", "userId", selfID, "peerId", peerID, "error", err)
	}

	h.logger.Info("Chat history retrieved", "userId", selfID, "peerId", peerID, "count", len(messages))
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// Conversations handles GET /api/messages/conversations
func (h *MessageHandler) Conversations(c *gin.Context) {
	selfID := c.MustGet("userID").(uuid.UUID)

	conversations, err := h.store.Conversations(c.Request.Context(), selfID)
	if err != nil {
		h.logger.Error("Failed to fetch conversations", "userId", selfID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch conversations",
		})
		return
	}

	// Overlay the live cached status where available; the stored column may
	// lag behind the registry.
	if h.cache != nil {
		for i := range conversations {
			status, err := h.cache.Status(c.Request.Context(), conversations[i].User.ID)
			if err != nil {
				continue
			}
			conversations[i].User.Status = status
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
	})
}
