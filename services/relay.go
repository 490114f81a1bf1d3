package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

// Relay handles inbound send requests: it validates, persists the message,
// echoes it to every connection of the sender, and delivers it to every
// live connection of the receiver.
//
// Live delivery is best effort and at most once. An offline receiver gets
// nothing in real time; the message surfaces on their next history fetch.
// Failure to reach one connection never blocks delivery to the others.
type Relay struct {
	store    Store
	registry *Registry
	sink     ConnectionSink
	logger   *utils.Logger
}

func NewRelay(store Store, registry *Registry, sink ConnectionSink, logger *utils.Logger) *Relay {
	return &Relay{
		store:    store,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

// Send processes one send_message request from the given sender. The
// returned error is reported back to the sender's own connection only:
// ErrInvalidRequest for malformed input, ErrNotFound for an unknown
// receiver, ErrRelayFailure when persistence fails. A persistence failure
// abandons the send entirely, so there is no partial delivery.
func (r *Relay) Send(ctx context.Context, senderID uuid.UUID, receiverID, content string) error {
	if receiverID == "" || content == "" {
		return fmt.Errorf("%w: receiverId and content are required", models.ErrInvalidRequest)
	}
	receiver, err := uuid.Parse(receiverID)
	if err != nil {
		return fmt.Errorf("%w: malformed receiverId", models.ErrInvalidRequest)
	}

	if _, err := r.store.UserByID(ctx, receiver); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: receiver does not exist", models.ErrNotFound)
		}
		r.logger.Error("Receiver lookup failed", "receiverId", receiver, "error", err)
		return models.ErrRelayFailure
	}

	view, err := r.store.CreateMessage(ctx, senderID, receiver, content)
	if err != nil {
		r.logger.Error("Failed to persist message", "senderId", senderID, "receiverId", receiver, "error", err)
		return models.ErrRelayFailure
	}

	// Echo to the sender's own connections so other tabs see the outgoing
	// message, then fan out to the receiver. The two branches are
	// independent: a dead connection in one never affects the other.
	r.fanOut(senderID, models.Envelope{
		Type:    models.EventMessageSent,
		Payload: models.MessagePayload{Message: *view},
	})
	r.fanOut(receiver, models.Envelope{
		Type:    models.EventReceiveMessage,
		Payload: models.MessagePayload{Message: *view},
	})

	return nil
}

func (r *Relay) fanOut(userID uuid.UUID, event models.Envelope) {
	for _, connID := range r.registry.ConnectionsFor(userID) {
		if !r.sink.Deliver(connID, event) {
			// Connection dropped between lookup and delivery; no retry.
			r.logger.Debug("Message delivery skipped", "connId", connID, "event", event.Type)
		}
	}
}
