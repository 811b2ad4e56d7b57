package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/frontcache/internal/cache"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestConversation creates a conversation with minimal required fields.
func createTestConversation(id, inboxID string, offset time.Duration) cache.Conversation {
	return cache.Conversation{
		ID:        id,
		InboxID:   inboxID,
		Subject:   "subject " + id,
		Status:    "open",
		Tags:      []string{},
		CreatedAt: testEpoch.Add(offset),
		SyncedAt:  testEpoch.Add(time.Hour),
	}
}

func ptr[T any](v T) *T { return &v }
