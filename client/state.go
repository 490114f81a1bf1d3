// Package client implements the chat client: a WebSocket connection to the
// gateway plus the reconciliation state machine that merges live messages,
// presence changes, snapshots, and history loads into one consistent view.
package client

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"chorus/chat-service/models"
)

// EntryKind classifies a timeline entry.
type EntryKind string

const (
	EntryInfo     EntryKind = "info"
	EntryError    EntryKind = "error"
	EntryIncoming EntryKind = "incoming"
	EntryOutgoing EntryKind = "outgoing"
)

// Entry is one item of the session timeline. Username and UserID identify
// the counterpart and are empty on info/error entries. Presence for the
// entry is looked up at render time via IsOnline, never stored here.
type Entry struct {
	ID        string
	Kind      EntryKind
	Text      string
	Username  string
	UserID    string
	Timestamp time.Time
}

// UserListItem is one row of the derived online/offline lists.
type UserListItem struct {
	ID       string
	Username string
}

// Event is a state machine input. The concrete types below form the full
// union of things the view reconciles.
type Event interface {
	event()
}

// Connected fires once the realtime channel is established.
type Connected struct{}

// Disconnected fires when the realtime channel drops. Manual marks a
// deliberate close, which is not worth an error entry.
type Disconnected struct {
	Manual bool
}

// MessageReceived carries a live incoming message.
type MessageReceived struct {
	Message models.MessageView
}

// MessageSent carries the echo of an own outgoing message. The timeline
// append happens only here, never when the send was issued, so a send and
// its echo cannot both produce an entry.
type MessageSent struct {
	Message models.MessageView
}

// StatusChanged carries a single user's presence transition.
type StatusChanged struct {
	UserID   uuid.UUID
	Username string
	Status   string
}

// SnapshotReceived carries the full online set pushed at connection time.
type SnapshotReceived struct {
	Users []models.OnlineUser
}

// HistoryLoaded carries a freshly fetched conversation history.
type HistoryLoaded struct {
	Messages []models.MessageView
}

// ErrorReceived carries a failure reported by the server.
type ErrorReceived struct {
	Message string
}

func (Connected) event()       {}
func (Disconnected) event()    {}
func (MessageReceived) event() {}
func (MessageSent) event()     {}
func (StatusChanged) event()   {}
func (SnapshotReceived) event() {}
func (HistoryLoaded) event()   {}
func (ErrorReceived) event()   {}

// State is the reducer state: known users, the online set, and the
// timeline. Transitions are deterministic and independent of rendering.
// Not safe for concurrent use; the Client serializes access.
type State struct {
	selfID   string
	selfName string
	known    map[string]string // user ID -> username, "" until learned
	online   map[string]bool
	timeline []Entry
}

func NewState(selfID, selfName string) *State {
	s := &State{
		selfID:   selfID,
		selfName: selfName,
		known:    make(map[string]string),
		online:   make(map[string]bool),
	}
	s.remember(selfID, selfName)
	return s
}

// Apply advances the state by one event.
func (s *State) Apply(ev Event) {
	switch e := ev.(type) {
	case Connected:
		s.online[s.selfID] = true
		s.appendEntry(Entry{Kind: EntryInfo, Text: "Connected to realtime server."})

	case Disconnected:
		if !e.Manual {
			s.appendEntry(Entry{Kind: EntryError, Text: "Disconnected from server."})
		}

	case MessageReceived:
		senderID := e.Message.Sender.ID.String()
		s.remember(senderID, e.Message.Sender.Username)
		s.appendEntry(Entry{
			Kind:      EntryIncoming,
			Text:      e.Message.Content,
			Username:  s.DisplayName(senderID),
			UserID:    senderID,
			Timestamp: e.Message.CreatedAt,
		})

	case MessageSent:
		receiverID := e.Message.Receiver.ID.String()
		s.remember(receiverID, e.Message.Receiver.Username)
		s.appendEntry(Entry{
			Kind:      EntryOutgoing,
			Text:      e.Message.Content,
			Username:  s.DisplayName(receiverID),
			UserID:    receiverID,
			Timestamp: e.Message.CreatedAt,
		})

	case StatusChanged:
		id := e.UserID.String()
		s.remember(id, e.Username)
		if e.Status == models.StatusOnline {
			s.online[id] = true
		} else {
			delete(s.online, id)
		}
		s.appendEntry(Entry{
			Kind: EntryInfo,
			Text: fmt.Sprintf("%s is now %s.", s.DisplayName(id), e.Status),
		})

	case SnapshotReceived:
		// Wholesale replacement; self is always part of its own view.
		online := make(map[string]bool, len(e.Users)+1)
		for _, user := range e.Users {
			id := user.UserID.String()
			s.remember(id, user.Username)
			online[id] = true
		}
		online[s.selfID] = true
		s.online = online

	case HistoryLoaded:
		// A history load replaces the timeline entirely.
		timeline := make([]Entry, 0, len(e.Messages))
		for _, msg := range e.Messages {
			counterpart := msg.Sender
			kind := EntryIncoming
			if msg.Sender.ID.String() == s.selfID {
				counterpart = msg.Receiver
				kind = EntryOutgoing
			}
			id := counterpart.ID.String()
			s.remember(id, counterpart.Username)
			timeline = append(timeline, Entry{
				ID:        msg.ID.String(),
				Kind:      kind,
				Text:      msg.Content,
				Username:  s.DisplayName(id),
				UserID:    id,
				Timestamp: msg.CreatedAt,
			})
		}
		s.timeline = timeline

	case ErrorReceived:
		s.appendEntry(Entry{Kind: EntryError, Text: e.Message})
	}
}

// remember learns a counterpart identity. The ID joins the known set
// immediately; the username is last-write-wins and may arrive later.
func (s *State) remember(id, username string) {
	if id == "" {
		return
	}
	if username != "" {
		s.known[id] = username
	} else if _, ok := s.known[id]; !ok {
		s.known[id] = ""
	}
}

func (s *State) appendEntry(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.timeline = append(s.timeline, entry)
}

// DisplayName renders a human-readable name for the ID, falling back to a
// placeholder derived from the ID suffix until a username is learned.
func (s *State) DisplayName(id string) string {
	if name := s.known[id]; name != "" {
		return name
	}
	suffix := id
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "User " + suffix
}

// IsOnline reports current presence for the ID. Render-time lookups keep
// even historical entries' presence dots fresh.
func (s *State) IsOnline(id string) bool {
	return s.online[id]
}

// Timeline returns a copy of the session timeline.
func (s *State) Timeline() []Entry {
	timeline := make([]Entry, len(s.timeline))
	copy(timeline, s.timeline)
	return timeline
}

// OnlineUsers returns everyone currently online, sorted by name.
func (s *State) OnlineUsers() []UserListItem {
	users := make([]UserListItem, 0, len(s.online))
	for id := range s.online {
		users = append(users, UserListItem{ID: id, Username: s.DisplayName(id)})
	}
	sortUserList(users)
	return users
}

// OfflineUsers returns every known user who is neither online nor self.
func (s *State) OfflineUsers() []UserListItem {
	users := make([]UserListItem, 0, len(s.known))
	for id := range s.known {
		if id == s.selfID || s.online[id] {
			continue
		}
		users = append(users, UserListItem{ID: id, Username: s.DisplayName(id)})
	}
	sortUserList(users)
	return users
}

func sortUserList(users []UserListItem) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
}
