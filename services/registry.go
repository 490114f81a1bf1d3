package services

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

// ConnectionSink delivers an event to a single live connection. Implemented
// by the Hub; faked in tests. Returns false when the connection is gone or
// its buffer is full, which the caller treats as a skipped delivery.
type ConnectionSink interface {
	Deliver(connID uuid.UUID, event models.Envelope) bool
}

// StatusRecorder persists the denormalized presence status after an
// online/offline transition. Called outside the registry lock and off the
// registry's hot path; implementations must tolerate concurrent calls.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, userID uuid.UUID, username, status string)
}

// Registry is the authoritative in-memory map from user to active
// connections. It computes online/offline transitions and fans the resulting
// status_change events out to every other live connection.
//
// All operations are serialized through a single mutex, so two connects and
// a disconnect for the same user cannot race to a wrong empty/non-empty
// transition. Fan-out happens after the lock is released.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[uuid.UUID]bool // userID -> connection ID set
	owners  map[uuid.UUID]uuid.UUID          // connection ID -> userID
	names   map[uuid.UUID]string             // userID -> username

	sink     ConnectionSink
	recorder StatusRecorder
	logger   *utils.Logger
}

func NewRegistry(logger *utils.Logger) *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]map[uuid.UUID]bool),
		owners:  make(map[uuid.UUID]uuid.UUID),
		names:   make(map[uuid.UUID]string),
		logger:  logger,
	}
}

// AttachSink wires the event sink. Must be called before the first Register.
func (r *Registry) AttachSink(sink ConnectionSink) {
	r.sink = sink
}

// AttachRecorder wires the optional denormalized-status writer.
func (r *Registry) AttachRecorder(recorder StatusRecorder) {
	r.recorder = recorder
}

// Register adds the connection under the user's entry, creating the entry if
// absent. The user's first connection triggers a single status_change
// broadcast to all other registered connections; the new connection itself
// learns the online set from the handshake snapshot instead. Registering the
// same connection twice is a no-op.
func (r *Registry) Register(userID uuid.UUID, username string, connID uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if ok && entry[connID] {
		r.mu.Unlock()
		return
	}
	if !ok {
		entry = make(map[uuid.UUID]bool)
		r.entries[userID] = entry
	}
	entry[connID] = true
	r.owners[connID] = userID
	r.names[userID] = username
	first := len(entry) == 1

	var targets []uuid.UUID
	if first {
		targets = r.connectionsExceptLocked(connID)
	}
	r.mu.Unlock()

	if !first {
		return
	}

	r.logger.Info("User online", "userId", userID, "username", username)
	r.broadcast(targets, models.Envelope{
		Type: models.EventStatusChange,
		Payload: models.StatusChangePayload{
			UserID:   userID,
			Username: username,
			Status:   models.StatusOnline,
		},
	})
	r.recordStatus(userID, username, models.StatusOnline)
}

// Unregister removes the connection from the user's entry. Removing the last
// connection deletes the entry and triggers a single status_change broadcast
// to the remaining connections. Unknown connections are a no-op, so a double
// disconnect is harmless.
func (r *Registry) Unregister(userID, connID uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok || !entry[connID] {
		r.mu.Unlock()
		return
	}
	delete(entry, connID)
	delete(r.owners, connID)

	last := len(entry) == 0
	username := r.names[userID]
	var targets []uuid.UUID
	if last {
		delete(r.entries, userID)
		delete(r.names, userID)
		targets = r.connectionsExceptLocked(connID)
	}
	r.mu.Unlock()

	if !last {
		return
	}

	r.logger.Info("User offline", "userId", userID, "username", username)
	r.broadcast(targets, models.Envelope{
		Type: models.EventStatusChange,
		Payload: models.StatusChangePayload{
			UserID:   userID,
			Username: username,
			Status:   models.StatusOffline,
		},
	})
	r.recordStatus(userID, username, models.StatusOffline)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[userID]) > 0
}

// ConnectionsFor returns the user's live connection IDs. Unknown users yield
// an empty slice.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.entries[userID]
	conns := make([]uuid.UUID, 0, len(entry))
	for connID := range entry {
		conns = append(conns, connID)
	}
	return conns
}

// Snapshot returns every currently online user, used for the initial sync
// pushed to a freshly authenticated connection.
func (r *Registry) Snapshot() []models.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.OnlineUser, 0, len(r.entries))
	for userID := range r.entries {
		users = append(users, models.OnlineUser{
			UserID:   userID,
			Username: r.names[userID],
		})
	}
	return users
}

func (r *Registry) connectionsExceptLocked(excluded uuid.UUID) []uuid.UUID {
	targets := make([]uuid.UUID, 0, len(r.owners))
	for connID := range r.owners {
		if connID != excluded {
			targets = append(targets, connID)
		}
	}
	return targets
}

func (r *Registry) broadcast(targets []uuid.UUID, event models.Envelope) {
	if r.sink == nil {
		return
	}
	for _, connID := range targets {
		if !r.sink.Deliver(connID, event) {
			r.logger.Debug("Presence broadcast skipped", "connId", connID)
		}
	}
}

func (r *Registry) recordStatus(userID uuid.UUID, username, status string) {
	if r.recorder == nil {
		return
	}
	go r.recorder.RecordStatus(context.Background(), userID, username, status)
}
