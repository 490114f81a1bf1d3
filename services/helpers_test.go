package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

func newTestLogger() *utils.Logger {
	return utils.NewLogger(slog.LevelError)
}

// fakeSink records every delivered event per connection.
type fakeSink struct {
	mu     sync.Mutex
	events map[uuid.UUID][]models.Envelope
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(map[uuid.UUID][]models.Envelope)}
}

func (f *fakeSink) Deliver(connID uuid.UUID, event models.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connID] = append(f.events[connID], event)
	return true
}

func (f *fakeSink) eventsFor(connID uuid.UUID) []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.Envelope, len(f.events[connID]))
	copy(events, f.events[connID])
	return events
}

func (f *fakeSink) countByType(connID uuid.UUID, eventType string) int {
	count := 0
	for _, event := range f.eventsFor(connID) {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func (f *fakeSink) totalByType(eventType string) int {
	f.mu.Lock()
	connIDs := make([]uuid.UUID, 0, len(f.events))
	for connID := range f.events {
		connIDs = append(connIDs, connID)
	}
	f.mu.Unlock()

	count := 0
	for _, connID := range connIDs {
		count += f.countByType(connID, eventType)
	}
	return count
}

// recordedStatus is one StatusRecorder invocation.
type recordedStatus struct {
	userID uuid.UUID
	status string
}

// chanRecorder forwards RecordStatus calls to a channel so tests can wait
// for the asynchronous write.
type chanRecorder struct {
	calls chan recordedStatus
}

func newChanRecorder() *chanRecorder {
	return &chanRecorder{calls: make(chan recordedStatus, 16)}
}

func (r *chanRecorder) RecordStatus(_ context.Context, userID uuid.UUID, _ string, status string) {
	r.calls <- recordedStatus{userID: userID, status: status}
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*models.User
	messages   []*models.Message
	failCreate bool
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]*models.User)}
}

func (s *memStore) addUser(username string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := &models.User{
		ID:       uuid.New(),
		Username: username,
		Status:   models.StatusOffline,
	}
	s.users[user.ID] = user
	return user
}

func (s *memStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := &models.User{
		ID:       uuid.New(),
		Username: username,
		Password: passwordHash,
		Status:   models.StatusOffline,
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *memStore) UserByName(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memStore) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (s *memStore) SetUserStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.Status = status
	}
	return nil
}

func (s *memStore) CreateMessage(_ context.Context, senderID, receiverID uuid.UUID, content string) (*models.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return nil, errors.New("storage unavailable")
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	receiver, ok := s.users[receiverID]
	if !ok {
		return nil, models.ErrNotFound
	}
	msg := &models.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now(),
		Sender:     *sender,
		Receiver:   *receiver,
	}
	s.messages = append(s.messages, msg)
	view := msg.View()
	return &view, nil
}

func (s *memStore) History(_ context.Context, userA, userB uuid.UUID) ([]models.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var views []models.MessageView
	for _, msg := range s.messages {
		if (msg.SenderID == userA && msg.ReceiverID == userB) ||
			(msg.SenderID == userB && msg.ReceiverID == userA) {
			views = append(views, msg.View())
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views, nil
}

func (s *memStore) MarkRead(_ context.Context, readerID, peerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ReceiverID == readerID && msg.SenderID == peerID {
			msg.Read = true
		}
	}
	return nil
}

func (s *memStore) Conversations(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[uuid.UUID]*models.Message)
	unread := make(map[uuid.UUID]int64)
	for _, msg := range s.messages {
		var peerID uuid.UUID
		switch userID {
		case msg.SenderID:
			peerID = msg.ReceiverID
		case msg.ReceiverID:
			peerID = msg.SenderID
		default:
			continue
		}
		if prev, ok := latest[peerID]; !ok || msg.CreatedAt.After(prev.CreatedAt) {
			latest[peerID] = msg
		}
		if msg.ReceiverID == userID && !msg.Read {
			unread[peerID]++
		}
	}

	var conversations []models.Conversation
	for peerID, msg := range latest {
		peer := s.users[peerID]
		conversations = append(conversations, models.Conversation{
			User: peer.Public(),
			LastMessage: models.ConversationMessage{
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
				SenderID:  msg.SenderID,
			},
			UnreadCount: unread[peerID],
		})
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.CreatedAt.After(conversations[j].LastMessage.CreatedAt)
	})
	return conversations, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
