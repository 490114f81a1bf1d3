package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/chat-service/models"
)

type hubFixture struct {
	server   *httptest.Server
	store    *memStore
	verifier *Verifier
	registry *Registry
	hub      *Hub
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	verifier := NewVerifier("test-secret", store)
	registry := NewRegistry(newTestLogger())
	hub := NewHub(verifier, registry, newTestLogger())
	registry.AttachSink(hub)
	relay := NewRelay(store, registry, hub, newTestLogger())
	hub.AttachRelay(relay)

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &hubFixture{
		server:   server,
		store:    store,
		verifier: verifier,
		registry: registry,
		hub:      hub,
	}
}

func (f *hubFixture) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := f.verifier.Issue(user, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *hubFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) models.InboundEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", wantType)

		var envelope models.InboundEnvelope
		require.NoError(t, json.Unmarshal(raw, &envelope))
		if envelope.Type == wantType {
			return envelope
		}
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, receiverID, content string) {
	t.Helper()
	payload, err := json.Marshal(models.SendMessagePayload{
		ReceiverID: receiverID,
		Content:    content,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.InboundEnvelope{
		Type:    models.EventSendMessage,
		Payload: payload,
	}))
}

func TestHandshakeRejectedBeforeRegistration(t *testing.T) {
	f := newHubFixture(t)
	alice := f.store.addUser("alice")

	expired, err := f.verifier.Issue(alice, -time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + expired
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No register call happened
	assert.Empty(t, f.registry.Snapshot())
	assert.Equal(t, 0, f.hub.SessionCount())
}

func TestHandshakeSnapshotIncludesSelf(t *testing.T) {
	f := newHubFixture(t)
	alice := f.store.addUser("alice")

	conn := f.dial(t, f.tokenFor(t, alice))

	envelope := readEvent(t, conn, models.EventOnlineUsers)
	var payload models.OnlineUsersPayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))

	require.Len(t, payload.Users, 1)
	assert.Equal(t, alice.ID, payload.Users[0].UserID)
	assert.Equal(t, "alice", payload.Users[0].Username)
}

func TestLiveMessageDelivery(t *testing.T) {
	f := newHubFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")

	aliceConn := f.dial(t, f.tokenFor(t, alice))
	readEvent(t, aliceConn, models.EventOnlineUsers)

	bobConn := f.dial(t, f.tokenFor(t, bob))
	readEvent(t, bobConn, models.EventOnlineUsers)

	// Alice learns bob came online before sending
	readEvent(t, aliceConn, models.EventStatusChange)

	sendMessage(t, aliceConn, bob.ID.String(), "hi")

	received := readEvent(t, bobConn, models.EventReceiveMessage)
	var incoming models.MessagePayload
	require.NoError(t, json.Unmarshal(received.Payload, &incoming))
	assert.Equal(t, "hi", incoming.Message.Content)
	assert.Equal(t, alice.ID, incoming.Message.Sender.ID)
	assert.Equal(t, "alice", incoming.Message.Sender.Username)

	echoed := readEvent(t, aliceConn, models.EventMessageSent)
	var outgoing models.MessagePayload
	require.NoError(t, json.Unmarshal(echoed.Payload, &outgoing))
	assert.Equal(t, "hi", outgoing.Message.Content)
	assert.Equal(t, bob.ID, outgoing.Message.Receiver.ID)

	assert.Equal(t, 1, f.store.messageCount())
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	f := newHubFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")

	aliceConn := f.dial(t, f.tokenFor(t, alice))
	readEvent(t, aliceConn, models.EventOnlineUsers)

	bobConn := f.dial(t, f.tokenFor(t, bob))
	readEvent(t, bobConn, models.EventOnlineUsers)
	readEvent(t, aliceConn, models.EventStatusChange)

	require.NoError(t, bobConn.Close())

	envelope := readEvent(t, aliceConn, models.EventStatusChange)
	var payload models.StatusChangePayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, bob.ID, payload.UserID)
	assert.Equal(t, models.StatusOffline, payload.Status)

	// Unregister ran exactly once for the dropped connection
	assert.Eventually(t, func() bool {
		return !f.registry.IsOnline(bob.ID)
	}, time.Second, 10*time.Millisecond)
}

func TestSendFailureReportedToSenderOnly(t *testing.T) {
	f := newHubFixture(t)
	alice := f.store.addUser("alice")

	aliceConn := f.dial(t, f.tokenFor(t, alice))
	readEvent(t, aliceConn, models.EventOnlineUsers)

	sendMessage(t, aliceConn, uuid.NewString(), "hi")

	envelope := readEvent(t, aliceConn, models.EventError)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Contains(t, payload.Message, "not found")
	assert.Equal(t, 0, f.store.messageCount())
}
