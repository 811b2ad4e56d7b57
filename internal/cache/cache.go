// Package cache defines the records of the local Front cache and the
// storage ports the sync engine drives.
//
// Adapters: internal/store (SQLite, production) and internal/memstore
// (in-memory, tests and dry runs).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/frontcache/internal/thread"
)

// Inbox is a partition of the remote API. ConversationCount and LastSyncAt
// are recomputed from stored conversations, never incremented in place.
type Inbox struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ConversationCount int        `json:"conversation_count"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

// Conversation is a cached conversation. CreatedAt is immutable after the
// first insert; every other field is refreshed on each upsert.
type Conversation struct {
	ID            string     `json:"id"`
	InboxID       string     `json:"inbox_id"`
	Subject       string     `json:"subject"`
	Status        string     `json:"status"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	Tags          []string   `json:"tags"`
	AssigneeEmail string     `json:"assignee_email,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	SyncedAt      time.Time  `json:"synced_at"`
	ParentID      string     `json:"parent_id,omitempty"`
	ThreadDepth   int        `json:"thread_depth"`
}

// Message is a cached message. Messages are immutable once observed.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	IsInbound      bool      `json:"is_inbound"`
	AuthorEmail    string    `json:"author_email,omitempty"`
	AuthorName     string    `json:"author_name,omitempty"`
	BodyText       string    `json:"body_text"`
	BodyHTML       string    `json:"body_html"`
	CreatedAt      time.Time `json:"created_at"`
}

// SyncState is the per-inbox checkpoint.
type SyncState struct {
	InboxID     string     `json:"inbox_id"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastItemAt  *time.Time `json:"last_item_at,omitempty"`
	LastItemID  string     `json:"last_item_id,omitempty"`
	TotalSynced int        `json:"total_synced"`
}

// SyncStateUpdate is a partial checkpoint update. Nil fields keep their
// stored value; LastItemAt only ever moves forward.
type SyncStateUpdate struct {
	LastSyncAt  *time.Time
	LastItemAt  *time.Time
	LastItemID  *string
	TotalSynced *int
}

// StatusCount is the number of conversations with a given status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Stats is the read-only snapshot reported by the stats mode.
type Stats struct {
	Inboxes       []Inbox        `json:"inboxes"`
	SyncStates    []SyncState    `json:"sync_states"`
	Statuses      []StatusCount  `json:"statuses"`
	Conversations int            `json:"conversations"`
	Messages      int            `json:"messages"`
	Threads       int            `json:"threads"`
	Recent        []Conversation `json:"recent"`
}

// Store is the write side of the cache.
type Store interface {
	UpsertInbox(ctx context.Context, inbox Inbox) error
	UpsertConversation(ctx context.Context, c Conversation) error
	// InsertMessage inserts m unless a message with the same id exists.
	// It reports whether a row was written.
	InsertMessage(ctx context.Context, m Message) (bool, error)
	// RefreshInbox recomputes the inbox's conversation count and stamps last_sync_at.
	RefreshInbox(ctx context.Context, inboxID string, at time.Time) error
	// LastWrittenConversation returns the id of the inbox's most recently
	// written conversation, or "" if none.
	LastWrittenConversation(ctx context.Context, inboxID string) (string, error)
	// MarkMessagesPending flags conversations whose messages are not yet
	// all stored, or clears the flag once they are.
	MarkMessagesPending(ctx context.Context, ids []string, pending bool) error
	// PendingMessages returns the inbox's flagged conversation ids.
	PendingMessages(ctx context.Context, inboxID string) ([]string, error)

	thread.DepthLookup
	ThreadEdges(ctx context.Context) ([]thread.Edge, error)
	UpdateThreadDepths(ctx context.Context, edges []thread.Edge) (int, error)

	Stats(ctx context.Context, recent int) (*Stats, error)
}

// SyncStateStore persists per-inbox checkpoints.
type SyncStateStore interface {
	// GetSyncState returns nil, nil when the inbox has no checkpoint.
	GetSyncState(ctx context.Context, inboxID string) (*SyncState, error)
	UpsertSyncState(ctx context.Context, inboxID string, u SyncStateUpdate) error
}

// Storage is everything the engine needs from a backing store.
type Storage interface {
	Store
	SyncStateStore
}

// StorageError reports a failed write of a single record. The engine logs
// and skips the record; it never aborts the page.
type StorageError struct {
	Op  string // e.g. "upsert conversation"
	ID  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
