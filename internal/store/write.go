package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/thread"
)

// UpsertInbox inserts or renames an inbox. The derived count and
// last_sync_at are left to RefreshInbox.
func (s *Store) UpsertInbox(ctx context.Context, inbox cache.Inbox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inboxes (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, inbox.ID, inbox.Name)
	if err != nil {
		return &cache.StorageError{Op: "upsert inbox", ID: inbox.ID, Err: err}
	}
	return nil
}

// UpsertConversation writes c. On conflict every mutable field is
// replaced; created_at keeps the value from the first insert.
func (s *Store) UpsertConversation(ctx context.Context, c cache.Conversation) error {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return &cache.StorageError{Op: "upsert conversation", ID: c.ID, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations
		(id, inbox_id, subject, status, customer_email, customer_name, tags,
		 assignee_email, created_at, last_message_at, synced_at, parent_id, thread_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			inbox_id        = excluded.inbox_id,
			subject         = excluded.subject,
			status          = excluded.status,
			customer_email  = excluded.customer_email,
			customer_name   = excluded.customer_name,
			tags            = excluded.tags,
			assignee_email  = excluded.assignee_email,
			last_message_at = excluded.last_message_at,
			synced_at       = excluded.synced_at,
			parent_id       = excluded.parent_id,
			thread_depth    = excluded.thread_depth
	`,
		c.ID,
		c.InboxID,
		c.Subject,
		c.Status,
		nullString(c.CustomerEmail),
		nullString(c.CustomerName),
		string(tagsJSON),
		nullString(c.AssigneeEmail),
		millis(c.CreatedAt),
		nullMillis(c.LastMessageAt),
		millis(c.SyncedAt),
		nullString(c.ParentID),
		c.ThreadDepth,
	)
	if err != nil {
		return &cache.StorageError{Op: "upsert conversation", ID: c.ID, Err: err}
	}
	return nil
}

// InsertMessage writes m unless its id is already stored.
func (s *Store) InsertMessage(ctx context.Context, m cache.Message) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
		(id, conversation_id, is_inbound, author_email, author_name, body_text, body_html, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		m.ConversationID,
		m.IsInbound,
		nullString(m.AuthorEmail),
		nullString(m.AuthorName),
		m.BodyText,
		m.BodyHTML,
		millis(m.CreatedAt),
	)
	if err != nil {
		return false, &cache.StorageError{Op: "insert message", ID: m.ID, Err: err}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, &cache.StorageError{Op: "insert message", ID: m.ID, Err: err}
	}
	return n > 0, nil
}

// RefreshInbox recomputes the inbox's conversation count from stored rows.
func (s *Store) RefreshInbox(ctx context.Context, inboxID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inboxes SET
			conversation_count = (SELECT COUNT(*) FROM conversations WHERE inbox_id = ?),
			last_sync_at = ?
		WHERE id = ?
	`, inboxID, millis(at), inboxID)
	if err != nil {
		return &cache.StorageError{Op: "refresh inbox", ID: inboxID, Err: err}
	}
	return nil
}

// UpsertSyncState merges u into the inbox's checkpoint. Nil fields keep
// the stored value and last_item_at never moves backwards.
func (s *Store) UpsertSyncState(ctx context.Context, inboxID string, u cache.SyncStateUpdate) error {
	var total sql.NullInt64
	if u.TotalSynced != nil {
		total = sql.NullInt64{Int64: int64(*u.TotalSynced), Valid: true}
	}
	var itemID sql.NullString
	if u.LastItemID != nil {
		itemID = sql.NullString{String: *u.LastItemID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (inbox_id, last_sync_at, last_item_at, last_item_id, total_synced)
		VALUES (?1, ?2, ?3, ?4, COALESCE(?5, 0))
		ON CONFLICT(inbox_id) DO UPDATE SET
			last_sync_at = COALESCE(excluded.last_sync_at, sync_state.last_sync_at),
			last_item_at = CASE
				WHEN excluded.last_item_at IS NULL THEN sync_state.last_item_at
				WHEN sync_state.last_item_at IS NULL THEN excluded.last_item_at
				ELSE MAX(sync_state.last_item_at, excluded.last_item_at)
			END,
			last_item_id = COALESCE(excluded.last_item_id, sync_state.last_item_id),
			total_synced = COALESCE(?5, sync_state.total_synced)
	`,
		inboxID,
		nullMillis(u.LastSyncAt),
		nullMillis(u.LastItemAt),
		itemID,
		total,
	)
	if err != nil {
		return &cache.StorageError{Op: "upsert sync state", ID: inboxID, Err: err}
	}
	return nil
}

// UpdateThreadDepths writes the depth of each edge in one transaction and
// returns the number of rows changed.
func (s *Store) UpdateThreadDepths(ctx context.Context, edges []thread.Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("update thread depths: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE conversations SET thread_depth = ? WHERE id = ? AND thread_depth != ?
	`)
	if err != nil {
		return 0, fmt.Errorf("update thread depths: prepare: %w", err)
	}
	defer stmt.Close()

	changed := 0
	for _, e := range edges {
		result, err := stmt.ExecContext(ctx, e.Depth, e.ID, e.Depth)
		if err != nil {
			return 0, &cache.StorageError{Op: "update thread depth", ID: e.ID, Err: err}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update thread depths: rows affected: %w", err)
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("update thread depths: commit: %w", err)
	}
	return changed, nil
}

// MarkMessagesPending sets or clears the pending-messages flag of each
// conversation in one transaction. Unknown ids are ignored.
func (s *Store) MarkMessagesPending(ctx context.Context, ids []string, pending bool) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark messages pending: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `UPDATE conversations SET messages_pending = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("mark messages pending: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, pending, id); err != nil {
			return &cache.StorageError{Op: "mark messages pending", ID: id, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark messages pending: commit: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
