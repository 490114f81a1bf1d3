package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Realtime channel event types.
const (
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventStatusChange   = "user_status_change"
	EventOnlineUsers    = "online_users"
	EventError          = "error"
)

// Envelope frames every event sent to a client over the realtime channel.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InboundEnvelope frames events received from a client. The payload stays
// raw until the event type is known.
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendMessagePayload is the client request to deliver a message.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MessagePayload carries a persisted message on receive_message and
// message_sent events.
type MessagePayload struct {
	Message MessageView `json:"message"`
}

// StatusChangePayload announces a single user's presence transition.
type StatusChangePayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
}

// OnlineUser is one entry of the initial presence snapshot.
type OnlineUser struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

// OnlineUsersPayload is the full online set pushed once at connection time.
type OnlineUsersPayload struct {
	Users []OnlineUser `json:"users"`
}

// ErrorPayload reports a failure back to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
