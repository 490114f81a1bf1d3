package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a persisted one-to-one chat message. Immutable once created
// except for the Read flag, which flips when the receiver loads the
// conversation history.
type Message struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	SenderID   uuid.UUID `json:"sender_id" gorm:"type:uuid;not null;index"`
	ReceiverID uuid.UUID `json:"receiver_id" gorm:"type:uuid;not null;index"`
	Content    string    `json:"content" gorm:"not null"`
	Read       bool      `json:"read" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at"`

	// Relations
	Sender   User `json:"-" gorm:"foreignKey:SenderID"`
	Receiver User `json:"-" gorm:"foreignKey:ReceiverID"`
}

// MessageView is the wire shape of a message with both counterparts
// populated, as delivered on the realtime channel and by the history API.
type MessageView struct {
	ID        uuid.UUID `json:"id"`
	Sender    UserRef   `json:"sender"`
	Receiver  UserRef   `json:"receiver"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m *Message) View() MessageView {
	return MessageView{
		ID:        m.ID,
		Sender:    m.Sender.Ref(),
		Receiver:  m.Receiver.Ref(),
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

// Conversation is one row of the conversation list: the peer, the most
// recent message exchanged with them, and how many of their messages are
// still unread.
type Conversation struct {
	User        PublicUser          `json:"user"`
	LastMessage ConversationMessage `json:"lastMessage"`
	UnreadCount int64               `json:"unreadCount"`
}

// ConversationMessage is the trimmed message summary on a conversation row.
type ConversationMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  uuid.UUID `json:"sender"`
}
