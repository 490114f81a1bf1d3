package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chorus/chat-service/models"
)

// Client talks to the chat service: bearer-token HTTP calls for auth and
// history, and the realtime channel for everything live. All received
// events are funneled into the reconciliation state machine.
type Client struct {
	baseURL string
	token   string
	self    models.PublicUser

	httpClient *http.Client

	mu     sync.Mutex
	state  *State
	conn   *websocket.Conn
	manual bool
}

type authResponse struct {
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    models.PublicUser `json:"user"`
}

// Register creates an account and returns a client authenticated as it.
func Register(baseURL, username, password string) (*Client, error) {
	return authenticate(baseURL, "register", username, password)
}

// Login authenticates an existing account.
func Login(baseURL, username, password string) (*Client, error) {
	return authenticate(baseURL, "login", username, password)
}

func authenticate(baseURL, mode, username, password string) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(
		strings.TrimSuffix(baseURL, "/")+"/api/auth/"+mode,
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", mode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to %s: %s", mode, readError(resp.Body))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", mode, err)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      auth.Token,
		self:       auth.User,
		httpClient: httpClient,
		state:      NewState(auth.User.ID.String(), auth.User.Username),
	}, nil
}

// Connect establishes the realtime channel and starts consuming events.
// The handshake carries the bearer token; a rejected handshake returns the
// server's reason.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return fmt.Errorf("handshake rejected: %s", readError(resp.Body))
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.manual = false
	c.state.Apply(Connected{})
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// SendMessage emits a send_message event. The timeline is not touched
// here; the outgoing entry appears when the server echoes message_sent.
func (c *Client) SendMessage(receiverID, content string) error {
	payload, err := json.Marshal(models.SendMessagePayload{
		ReceiverID: receiverID,
		Content:    content,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(models.InboundEnvelope{
		Type:    models.EventSendMessage,
		Payload: payload,
	})
}

// LoadHistory fetches the conversation with the peer and replaces the
// timeline with it.
func (c *Client) LoadHistory(ctx context.Context, peerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/messages/history/"+peerID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch history: %s", readError(resp.Body))
	}

	var payload struct {
		Messages []models.MessageView `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}

	c.apply(HistoryLoaded{Messages: payload.Messages})
	return nil
}

// Close tears the realtime channel down deliberately.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.manual = true
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Self returns the authenticated identity.
func (c *Client) Self() models.PublicUser {
	return c.self
}

// Timeline returns the current session timeline.
func (c *Client) Timeline() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Timeline()
}

// OnlineUsers returns the current online list.
func (c *Client) OnlineUsers() []UserListItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.OnlineUsers()
}

// OfflineUsers returns every known user who is not online.
func (c *Client) OfflineUsers() []UserListItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.OfflineUsers()
}

// IsOnline reports live presence for the user ID.
func (c *Client) IsOnline(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsOnline(id)
}

func (c *Client) apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Apply(ev)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			manual := c.manual
			if c.conn == conn {
				c.conn = nil
			}
			c.state.Apply(Disconnected{Manual: manual})
			c.mu.Unlock()
			return
		}

		ev, err := decodeEvent(raw)
		if err != nil {
			c.apply(ErrorReceived{Message: err.Error()})
			continue
		}
		c.apply(ev)
	}
}

func decodeEvent(raw []byte) (Event, error) {
	var envelope models.InboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	switch envelope.Type {
	case models.EventReceiveMessage:
		var payload models.MessagePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return MessageReceived{Message: payload.Message}, nil

	case models.EventMessageSent:
		var payload models.MessagePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return MessageSent{Message: payload.Message}, nil

	case models.EventStatusChange:
		var payload models.StatusChangePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return StatusChanged{
			UserID:   payload.UserID,
			Username: payload.Username,
			Status:   payload.Status,
		}, nil

	case models.EventOnlineUsers:
		var payload models.OnlineUsersPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return SnapshotReceived{Users: payload.Users}, nil

	case models.EventError:
		var payload models.ErrorPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Type, err)
		}
		return ErrorReceived{Message: payload.Message}, nil
	}

	return nil, fmt.Errorf("unknown event type: %s", envelope.Type)
}

func readError(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "unexpected response"
}
