package models

import (
	"time"

	"github.com/google/uuid"
)

// Presence status values cached on the user record. The authoritative
// online/offline state lives in the presence registry; this column is a
// denormalization kept fresh on connect/disconnect transitions.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User represents a chat account.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null" binding:"required"`
	Password  string    `json:"-" gorm:"not null"`
	Status    string    `json:"status" gorm:"default:offline"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Status:   u.Status,
	}
}

// UserRef identifies a message counterpart on the wire.
type UserRef struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}
