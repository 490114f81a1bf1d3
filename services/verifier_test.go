package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/chat-service/models"
)

func TestVerifyRoundTrip(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	verifier := NewVerifier("test-secret", store)

	token, err := verifier.Issue(alice, time.Hour)
	require.NoError(t, err)

	user, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "alice", user.Username)
}

func TestVerifyMissingToken(t *testing.T) {
	verifier := NewVerifier("test-secret", newMemStore())

	_, err := verifier.Verify(context.Background(), "")
	ue, ok := models.AsUnauthorized(err)
	require.True(t, ok)
	assert.Equal(t, "missing token", ue.Reason)
}

func TestVerifyExpiredToken(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	verifier := NewVerifier("test-secret", store)

	token, err := verifier.Issue(alice, -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), token)
	ue, ok := models.AsUnauthorized(err)
	require.True(t, ok)
	assert.Equal(t, "expired", ue.Reason)
}

func TestVerifyGarbageToken(t *testing.T) {
	verifier := NewVerifier("test-secret", newMemStore())

	_, err := verifier.Verify(context.Background(), "not-a-token")
	ue, ok := models.AsUnauthorized(err)
	require.True(t, ok)
	assert.Equal(t, "invalid", ue.Reason)
}

func TestVerifyWrongSecret(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")

	token, err := NewVerifier("other-secret", store).Issue(alice, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("test-secret", store).Verify(context.Background(), token)
	ue, ok := models.AsUnauthorized(err)
	require.True(t, ok)
	assert.Equal(t, "invalid", ue.Reason)
}

func TestVerifyUnknownUser(t *testing.T) {
	issuingStore := newMemStore()
	ghost := issuingStore.addUser("ghost")
	verifier := NewVerifier("test-secret", newMemStore())

	token, err := NewVerifier("test-secret", issuingStore).Issue(ghost, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), token)
	ue, ok := models.AsUnauthorized(err)
	require.True(t, ok)
	assert.Equal(t, "unknown user", ue.Reason)
}
