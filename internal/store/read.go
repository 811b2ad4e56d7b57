package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/thread"
)

const conversationColumns = `
	id, inbox_id, subject, status, customer_email, customer_name, tags,
	assignee_email, created_at, last_message_at, synced_at, parent_id, thread_depth`

// DepthOf returns the stored thread depth of a conversation.
func (s *Store) DepthOf(ctx context.Context, id string) (int, bool, error) {
	var depth int
	err := s.db.QueryRowContext(ctx, `SELECT thread_depth FROM conversations WHERE id = ?`, id).Scan(&depth)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("depth of %s: %w", id, err)
	}
	return depth, true, nil
}

// GetConversation returns a stored conversation, or nil if absent.
func (s *Store) GetConversation(ctx context.Context, id string) (*cache.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns an inbox's conversations ordered by id.
func (s *Store) ListConversations(ctx context.Context, inboxID string) ([]cache.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE inbox_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, inboxID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	return collectConversations(rows)
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]cache.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, is_inbound, author_email, author_name, body_text, body_html, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []cache.Message{}
	for rows.Next() {
		var (
			m                   cache.Message
			authorEmail, author sql.NullString
			created             int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.IsInbound, &authorEmail, &author,
			&m.BodyText, &m.BodyHTML, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.AuthorEmail = authorEmail.String
		m.AuthorName = author.String
		m.CreatedAt = fromMillis(created)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// LastWrittenConversation returns the id of the conversation most recently
// written for inboxID, or "" if the inbox has none.
func (s *Store) LastWrittenConversation(ctx context.Context, inboxID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations
		WHERE inbox_id = ?
		ORDER BY synced_at DESC, rowid DESC
		LIMIT 1
	`, inboxID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last written conversation: %w", err)
	}
	return id, nil
}

// PendingMessages returns the inbox's conversations whose messages have
// not all been stored, ordered by id.
func (s *Store) PendingMessages(ctx context.Context, inboxID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE inbox_id = ? AND messages_pending = 1
		ORDER BY id COLLATE BINARY ASC
	`, inboxID)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending messages: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending messages: %w", err)
	}
	return ids, nil
}

// ThreadEdges returns every conversation with its parent and stored depth.
func (s *Store) ThreadEdges(ctx context.Context) ([]thread.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, thread_depth FROM conversations
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query thread edges: %w", err)
	}
	defer rows.Close()

	var edges []thread.Edge
	for rows.Next() {
		var (
			e      thread.Edge
			parent sql.NullString
		)
		if err := rows.Scan(&e.ID, &parent, &e.Depth); err != nil {
			return nil, fmt.Errorf("scan thread edge: %w", err)
		}
		e.ParentID = parent.String
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread edges: %w", err)
	}
	return edges, nil
}

// GetSyncState returns the inbox's checkpoint, or nil if none exists.
func (s *Store) GetSyncState(ctx context.Context, inboxID string) (*cache.SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT inbox_id, last_sync_at, last_item_at, last_item_id, total_synced
		FROM sync_state WHERE inbox_id = ?
	`, inboxID)
	st, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", inboxID, err)
	}
	return &st, nil
}

// Stats returns a read-only snapshot of the cache with up to recent of the
// newest conversations.
func (s *Store) Stats(ctx context.Context, recent int) (*cache.Stats, error) {
	st := &cache.Stats{
		Inboxes:    []cache.Inbox{},
		SyncStates: []cache.SyncState{},
		Statuses:   []cache.StatusCount{},
		Recent:     []cache.Conversation{},
	}

	inboxes, err := s.ListInboxes(ctx)
	if err != nil {
		return nil, err
	}
	st.Inboxes = inboxes

	rows, err := s.db.QueryContext(ctx, `
		SELECT inbox_id, last_sync_at, last_item_at, last_item_id, total_synced
		FROM sync_state ORDER BY inbox_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync state: %w", err)
	}
	for rows.Next() {
		ss, err := scanSyncState(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		st.SyncStates = append(st.SyncStates, ss)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync state: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM conversations
		GROUP BY status ORDER BY COUNT(*) DESC, status ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	for rows.Next() {
		var sc cache.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st.Statuses = append(st.Statuses, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM conversations WHERE parent_id IS NOT NULL)
	`).Scan(&st.Conversations, &st.Messages, &st.Threads); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}

	if recent > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+conversationColumns+` FROM conversations
			ORDER BY COALESCE(last_message_at, created_at) DESC, id COLLATE BINARY ASC
			LIMIT ?
		`, recent)
		if err != nil {
			return nil, fmt.Errorf("query recent: %w", err)
		}
		st.Recent, err = collectConversations(rows)
		if err != nil {
			return nil, err
		}
	}

	return st, nil
}

// ListInboxes returns all stored inboxes ordered by name.
func (s *Store) ListInboxes(ctx context.Context) ([]cache.Inbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, conversation_count, last_sync_at FROM inboxes
		ORDER BY name ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query inboxes: %w", err)
	}
	defer rows.Close()

	inboxes := []cache.Inbox{}
	for rows.Next() {
		var (
			in   cache.Inbox
			last sql.NullInt64
		)
		if err := rows.Scan(&in.ID, &in.Name, &in.ConversationCount, &last); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		in.LastSyncAt = fromNullMillis(last)
		inboxes = append(inboxes, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inboxes: %w", err)
	}
	return inboxes, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (cache.Conversation, error) {
	var (
		c                                   cache.Conversation
		email, name, assignee, parent, tags sql.NullString
		created, synced                     int64
		lastMessage                         sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.InboxID, &c.Subject, &c.Status, &email, &name, &tags,
		&assignee, &created, &lastMessage, &synced, &parent, &c.ThreadDepth); err != nil {
		return cache.Conversation{}, err
	}

	c.CustomerEmail = email.String
	c.CustomerName = name.String
	c.AssigneeEmail = assignee.String
	c.ParentID = parent.String
	c.CreatedAt = fromMillis(created)
	c.LastMessageAt = fromNullMillis(lastMessage)
	c.SyncedAt = fromMillis(synced)

	c.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
			return cache.Conversation{}, fmt.Errorf("unmarshal tags for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func collectConversations(rows *sql.Rows) ([]cache.Conversation, error) {
	defer rows.Close()

	conversations := []cache.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

func scanSyncState(row scanner) (cache.SyncState, error) {
	var (
		st               cache.SyncState
		lastSync, lastAt sql.NullInt64
		lastID           sql.NullString
	)
	if err := row.Scan(&st.InboxID, &lastSync, &lastAt, &lastID, &st.TotalSynced); err != nil {
		return cache.SyncState{}, err
	}
	st.LastSyncAt = fromNullMillis(lastSync)
	st.LastItemAt = fromNullMillis(lastAt)
	st.LastItemID = lastID.String
	return st, nil
}
