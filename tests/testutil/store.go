package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestUser inserts a user with placeholder ciphertext for its tokens.
func NewTestUser(t *testing.T, s *store.SQLiteStore, email string) *model.User {
	t.Helper()

	access := "enc-access"
	u, err := s.UpsertUserTokens(context.Background(), model.TokenUpdate{
		Email:          email,
		GoogleID:       "sub-" + email,
		EncAccessToken: &access,
	})
	if err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return u
}

// NewTestMessage inserts an inbox message for userID.
func NewTestMessage(t *testing.T, s *store.SQLiteStore, userID int64, externalID string) *model.Message {
	t.Helper()

	m, err := s.InsertMessage(context.Background(), model.Message{
		ExternalID: externalID,
		UserID:     userID,
		Sender:     "alice@example.com",
		Subject:    "subject " + externalID,
		Snippet:    "snippet " + externalID,
		Labels:     "INBOX",
	})
	if err != nil {
		t.Fatalf("creating test message: %v", err)
	}
	return m
}
