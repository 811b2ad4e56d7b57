package engine

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/frontapi"
	"github.com/roach88/frontcache/internal/thread"
)

// toConversation maps a listing item to its cache record. Free text is
// NFC-normalized so equal strings compare equal in SQL.
func toConversation(inboxID string, c frontapi.Conversation, link thread.Link, syncedAt time.Time) cache.Conversation {
	rec := cache.Conversation{
		ID:          c.ID,
		InboxID:     inboxID,
		Subject:     norm.NFC.String(c.Subject),
		Status:      c.Status,
		Tags:        make([]string, 0, len(c.Tags)),
		CreatedAt:   c.Created(),
		SyncedAt:    syncedAt,
		ParentID:    link.ParentID,
		ThreadDepth: link.Depth,
	}
	for _, name := range c.TagNames() {
		rec.Tags = append(rec.Tags, norm.NFC.String(name))
	}
	if c.LastMessageAt != nil {
		t := frontapi.EpochTime(*c.LastMessageAt)
		rec.LastMessageAt = &t
	}
	if c.Recipient != nil {
		rec.CustomerEmail = c.Recipient.Handle
		rec.CustomerName = norm.NFC.String(c.Recipient.Name)
	}
	if c.Assignee != nil {
		rec.AssigneeEmail = c.Assignee.Email
	}
	return rec
}

func toMessage(conversationID string, m frontapi.Message) cache.Message {
	email, name := m.Sender()
	return cache.Message{
		ID:             m.ID,
		ConversationID: conversationID,
		IsInbound:      m.IsInbound,
		AuthorEmail:    email,
		AuthorName:     norm.NFC.String(name),
		BodyText:       norm.NFC.String(m.Text),
		BodyHTML:       norm.NFC.String(m.Body),
		CreatedAt:      frontapi.EpochTime(m.CreatedAt),
	}
}
