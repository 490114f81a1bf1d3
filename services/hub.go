package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chorus/chat-service/middleware"
	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Session is one authenticated realtime connection. The identity attached
// during the handshake never changes for the session's lifetime.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Username      string
	EstablishedAt time.Time

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	once   sync.Once
}

// Hub is the session gateway: it authenticates new realtime connections,
// attaches the verified identity, registers them with the presence registry,
// and owns delivery to each session's socket.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	verifier *Verifier
	registry *Registry
	relay    *Relay
	upgrader websocket.Upgrader
	logger   *utils.Logger
}

func NewHub(verifier *Verifier, registry *Registry, logger *utils.Logger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]*Session),
		verifier: verifier,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// AttachRelay wires the message relay. Must be called before serving.
func (h *Hub) AttachRelay(relay *Relay) {
	h.relay = relay
}

// HandleConnection is the GET /ws handler. The handshake is rejected with
// the verifier's reason before the upgrade, so an unauthenticated caller
// never exchanges events. On success the connection is registered first and
// only then receives the online snapshot, so it sees itself in the set.
func (h *Hub) HandleConnection(c *gin.Context) {
	token := middleware.ExtractToken(c.Request)
	user, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		reason := "authentication failed"
		if ue, ok := models.AsUnauthorized(err); ok {
			reason = ue.Reason
		} else {
			h.logger.Error("Handshake verification failed", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	session := &Session{
		ID:            uuid.New(),
		UserID:        user.ID,
		Username:      user.Username,
		EstablishedAt: time.Now(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()

	h.logger.Info("Session established", "connId", session.ID, "userId", user.ID, "username", user.Username)

	go session.writePump()

	h.registry.Register(user.ID, user.Username, session.ID)
	h.Deliver(session.ID, models.Envelope{
		Type:    models.EventOnlineUsers,
		Payload: models.OnlineUsersPayload{Users: h.registry.Snapshot()},
	})

	session.readPump()
}

// Deliver implements ConnectionSink. It queues the event on the session's
// send buffer without blocking; a missing session or full buffer counts as a
// skipped delivery.
func (h *Hub) Deliver(connID uuid.UUID, event models.Envelope) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", "event", event.Type, "error", err)
		return false
	}

	// The read lock is held for the whole send attempt so the session's
	// channel cannot be closed underneath it.
	h.mu.RLock()
	defer h.mu.RUnlock()

	session, ok := h.sessions[connID]
	if !ok || session.closed {
		return false
	}

	select {
	case session.send <- data:
		return true
	default:
		return false
	}
}

// SessionCount returns the number of live connections.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every live session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	for _, session := range sessions {
		session.close()
		_ = session.conn.Close()
	}
	h.logger.Info("Closed all sessions", "count", len(sessions))
}

func (h *Hub) removeSession(connID uuid.UUID) {
	h.mu.Lock()
	session, ok := h.sessions[connID]
	if ok {
		delete(h.sessions, connID)
		session.closed = true
	}
	h.mu.Unlock()

	// Close the channel after releasing the lock
	if ok {
		close(session.send)
	}
}

func (h *Hub) handleInbound(session *Session, raw []byte) {
	var envelope models.InboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.sendError(session.ID, "malformed event")
		return
	}

	switch envelope.Type {
	case models.EventSendMessage:
		var payload models.SendMessagePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			h.sendError(session.ID, "malformed send_message payload")
			return
		}
		if err := h.relay.Send(context.Background(), session.UserID, payload.ReceiverID, payload.Content); err != nil {
			h.sendError(session.ID, err.Error())
		}
	default:
		h.sendError(session.ID, "unknown event type: "+envelope.Type)
	}
}

func (h *Hub) sendError(connID uuid.UUID, message string) {
	h.Deliver(connID, models.Envelope{
		Type:    models.EventError,
		Payload: models.ErrorPayload{Message: message},
	})
}

// close tears the session down exactly once: the connection is removed from
// the registry, dropped from the hub, and its send channel closed, which in
// turn stops the write pump. Safe to call from either pump or from Shutdown.
func (s *Session) close() {
	s.once.Do(func() {
		s.hub.registry.Unregister(s.UserID, s.ID)
		s.hub.removeSession(s.ID)
		s.hub.logger.Info("Session closed", "connId", s.ID, "userId", s.UserID)
	})
}

func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("Unexpected close", "connId", s.ID, "error", err)
			}
			return
		}
		// Inbound events are handled synchronously so sends from one
		// connection stay ordered.
		s.hub.handleInbound(s, raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
