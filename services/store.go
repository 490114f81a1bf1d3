package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chorus/chat-service/models"
)

// Store is the persistence boundary for users and messages. The relay and
// the HTTP handlers issue reads and writes through it and trust the
// implementation's atomicity per call.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	UserByName(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetUserStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.MessageView, error)
	History(ctx context.Context, userA, userB uuid.UUID) ([]models.MessageView, error)
	MarkRead(ctx context.Context, readerID, peerID uuid.UUID) error
	Conversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore returns a Store backed by the given database connection.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := models.User{
		Username: username,
		Password: passwordHash,
		Status:   models.StatusOffline,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *gormStore) UserByName(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func (s *gormStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func (s *gormStore) SetUserStatus(ctx context.Context, id uuid.UUID, status string) error {
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

func (s *gormStore) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.MessageView, error) {
	msg := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	// Re-read with both counterparts populated for the wire shape
	if err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		First(&msg, "id = ?", msg.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to load created message: %w", err)
	}

	view := msg.View()
	return &view, nil
}

func (s *gormStore) History(ctx context.Context, userA, userB uuid.UUID) ([]models.MessageView, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	views := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, messages[i].View())
	}
	return views, nil
}

func (s *gormStore) MarkRead(ctx context.Context, readerID, peerID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where(`receiver_id = ? AND sender_id = ? AND "read" = false`, readerID, peerID).
		Update("read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

type conversationRow struct {
	PeerID    uuid.UUID
	Username  string
	Status    string
	Content   string
	CreatedAt time.Time
	SenderID  uuid.UUID
	Unread    int64
}

func (s *gormStore) Conversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (peer.id)
			peer.id AS peer_id,
			peer.username,
			peer.status,
			m.content,
			m.created_at,
			m.sender_id,
			COALESCE(u.unread, 0) AS unread
		FROM messages m
		JOIN users peer
			ON peer.id = CASE WHEN m.sender_id = @self THEN m.receiver_id ELSE m.sender_id END
		LEFT JOIN (
			SELECT sender_id AS peer_id, COUNT(*) AS unread
			FROM messages
			WHERE receiver_id = @self AND "read" = false
			GROUP BY sender_id
		) u ON u.peer_id = peer.id
		WHERE m.sender_id = @self OR m.receiver_id = @self
		ORDER BY peer.id, m.created_at DESC`,
		map[string]interface{}{"self": userID},
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	// Most recent conversation first
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	conversations := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, models.Conversation{
			User: models.PublicUser{
				ID:       row.PeerID,
				Username: row.Username,
				Status:   row.Status,
			},
			LastMessage: models.ConversationMessage{
				Content:   row.Content,
				CreatedAt: row.CreatedAt,
				SenderID:  row.SenderID,
			},
			UnreadCount: row.Unread,
		})
	}
	return conversations, nil
}
