// Package memstore is an in-memory cache.Storage for tests and dry runs.
// It mirrors the SQLite adapter's semantics, including write-once
// created_at and advance-only last_item_at.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/thread"
)

var _ cache.Storage = (*Store)(nil)

// Store holds every record in maps guarded by a single mutex.
type Store struct {
	mu            sync.Mutex
	inboxes       map[string]cache.Inbox
	conversations map[string]cache.Conversation
	written       map[string]int64 // conversation id -> write sequence
	seq           int64
	messages      map[string]cache.Message
	pending       map[string]bool
	states        map[string]cache.SyncState

	// FailConversation, when set, is consulted before every conversation
	// write; a non-nil result is returned as the storage error.
	FailConversation func(id string) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		inboxes:       make(map[string]cache.Inbox),
		conversations: make(map[string]cache.Conversation),
		written:       make(map[string]int64),
		messages:      make(map[string]cache.Message),
		pending:       make(map[string]bool),
		states:        make(map[string]cache.SyncState),
	}
}

// UpsertInbox inserts or renames an inbox.
func (s *Store) UpsertInbox(_ context.Context, inbox cache.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.inboxes[inbox.ID]
	if !ok {
		cur = cache.Inbox{ID: inbox.ID}
	}
	cur.Name = inbox.Name
	s.inboxes[inbox.ID] = cur
	return nil
}

// UpsertConversation writes c, keeping the first created_at.
func (s *Store) UpsertConversation(_ context.Context, c cache.Conversation) error {
	if s.FailConversation != nil {
		if err := s.FailConversation(c.ID); err != nil {
			return &cache.StorageError{Op: "upsert conversation", ID: c.ID, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.conversations[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	}
	c.Tags = append([]string{}, c.Tags...)
	s.conversations[c.ID] = c
	s.seq++
	s.written[c.ID] = s.seq
	return nil
}

// InsertMessage stores m unless its id is already present.
func (s *Store) InsertMessage(_ context.Context, m cache.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; ok {
		return false, nil
	}
	s.messages[m.ID] = m
	return true, nil
}

// RefreshInbox recomputes the inbox's conversation count.
func (s *Store) RefreshInbox(_ context.Context, inboxID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inboxes[inboxID]
	if !ok {
		return nil
	}
	n := 0
	for _, c := range s.conversations {
		if c.InboxID == inboxID {
			n++
		}
	}
	in.ConversationCount = n
	in.LastSyncAt = &at
	s.inboxes[inboxID] = in
	return nil
}

// LastWrittenConversation returns the inbox's most recently written conversation.
func (s *Store) LastWrittenConversation(_ context.Context, inboxID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id   string
		best int64
	)
	for cid, seq := range s.written {
		if s.conversations[cid].InboxID == inboxID && seq > best {
			id, best = cid, seq
		}
	}
	return id, nil
}

// DepthOf returns a stored conversation's thread depth.
func (s *Store) DepthOf(_ context.Context, id string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	return c.ThreadDepth, ok, nil
}

// ThreadEdges returns every conversation's link, ordered by id.
func (s *Store) ThreadEdges(_ context.Context) ([]thread.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := make([]thread.Edge, 0, len(s.conversations))
	for _, c := range s.conversations {
		edges = append(edges, thread.Edge{ID: c.ID, ParentID: c.ParentID, Depth: c.ThreadDepth})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

// UpdateThreadDepths applies depths and returns how many changed.
func (s *Store) UpdateThreadDepths(_ context.Context, edges []thread.Edge) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, e := range edges {
		c, ok := s.conversations[e.ID]
		if !ok || c.ThreadDepth == e.Depth {
			continue
		}
		c.ThreadDepth = e.Depth
		s.conversations[e.ID] = c
		changed++
	}
	return changed, nil
}

// MarkMessagesPending sets or clears the pending-messages flag.
// Unknown ids are ignored.
func (s *Store) MarkMessagesPending(_ context.Context, ids []string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.conversations[id]; !ok {
			continue
		}
		if pending {
			s.pending[id] = true
		} else {
			delete(s.pending, id)
		}
	}
	return nil
}

// PendingMessages returns the inbox's flagged conversations ordered by id.
func (s *Store) PendingMessages(_ context.Context, inboxID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []string{}
	for id := range s.pending {
		if s.conversations[id].InboxID == inboxID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetSyncState returns the inbox's checkpoint, or nil.
func (s *Store) GetSyncState(_ context.Context, inboxID string) (*cache.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[inboxID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// UpsertSyncState merges u into the inbox's checkpoint.
func (s *Store) UpsertSyncState(_ context.Context, inboxID string, u cache.SyncStateUpdate) error {
	if inboxID == "" {
		return &cache.StorageError{Op: "upsert sync state", Err: errors.New("empty inbox id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[inboxID]
	if !ok {
		st = cache.SyncState{InboxID: inboxID}
	}
	if u.LastSyncAt != nil {
		t := *u.LastSyncAt
		st.LastSyncAt = &t
	}
	if u.LastItemAt != nil && (st.LastItemAt == nil || u.LastItemAt.After(*st.LastItemAt)) {
		t := *u.LastItemAt
		st.LastItemAt = &t
	}
	if u.LastItemID != nil {
		st.LastItemID = *u.LastItemID
	}
	if u.TotalSynced != nil {
		st.TotalSynced = *u.TotalSynced
	}
	s.states[inboxID] = st
	return nil
}

// Stats returns the cache snapshot with up to recent conversations.
func (s *Store) Stats(_ context.Context, recent int) (*cache.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &cache.Stats{
		Inboxes:       []cache.Inbox{},
		SyncStates:    []cache.SyncState{},
		Statuses:      []cache.StatusCount{},
		Recent:        []cache.Conversation{},
		Conversations: len(s.conversations),
		Messages:      len(s.messages),
	}

	for _, in := range s.inboxes {
		st.Inboxes = append(st.Inboxes, in)
	}
	sort.Slice(st.Inboxes, func(i, j int) bool {
		if st.Inboxes[i].Name != st.Inboxes[j].Name {
			return st.Inboxes[i].Name < st.Inboxes[j].Name
		}
		return st.Inboxes[i].ID < st.Inboxes[j].ID
	})

	for _, ss := range s.states {
		st.SyncStates = append(st.SyncStates, ss)
	}
	sort.Slice(st.SyncStates, func(i, j int) bool { return st.SyncStates[i].InboxID < st.SyncStates[j].InboxID })

	counts := make(map[string]int)
	all := make([]cache.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		counts[c.Status]++
		if c.ParentID != "" {
			st.Threads++
		}
		all = append(all, c)
	}
	for status, n := range counts {
		st.Statuses = append(st.Statuses, cache.StatusCount{Status: status, Count: n})
	}
	sort.Slice(st.Statuses, func(i, j int) bool {
		if st.Statuses[i].Count != st.Statuses[j].Count {
			return st.Statuses[i].Count > st.Statuses[j].Count
		}
		return st.Statuses[i].Status < st.Statuses[j].Status
	})

	sort.Slice(all, func(i, j int) bool {
		ai, aj := activity(all[i]), activity(all[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return all[i].ID < all[j].ID
	})
	if recent > len(all) {
		recent = len(all)
	}
	if recent > 0 {
		st.Recent = all[:recent]
	}
	return st, nil
}

// Conversation returns a stored conversation by id.
func (s *Store) Conversation(id string) (cache.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Messages returns the stored messages of a conversation ordered by id.
func (s *Store) Messages(conversationID string) []cache.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []cache.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func activity(c cache.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}
