package frontapi

import (
	"math"
	"time"
)

// Pagination is the cursor block of every Front list response.
// Next is an absolute URL, or null on the last page.
type Pagination struct {
	Next *string `json:"next"`
}

// listResponse is the envelope shared by all Front list endpoints.
type listResponse[T any] struct {
	Pagination Pagination `json:"_pagination"`
	Results    []T        `json:"_results"`
}

// Page is one page of a cursor-linked listing.
type Page[T any] struct {
	Results []T
	Next    string // empty on the last page
}

// ConversationPage is one page of an inbox conversation listing.
type ConversationPage = Page[Conversation]

// Inbox is a Front inbox, the unit of independent pagination.
type Inbox struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tag is a conversation tag.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Contact is a conversation recipient (the customer side).
type Contact struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
}

// Teammate is an assignee or message author.
type Teammate struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName joins first and last name.
func (t *Teammate) FullName() string {
	if t == nil {
		return ""
	}
	switch {
	case t.FirstName == "":
		return t.LastName
	case t.LastName == "":
		return t.FirstName
	default:
		return t.FirstName + " " + t.LastName
	}
}

// ConversationLinks holds the related-resource URLs of a conversation.
type ConversationLinks struct {
	Self    string `json:"self,omitempty"`
	Related struct {
		ParentConversation string `json:"parent_conversation,omitempty"`
	} `json:"related"`
}

// Conversation is a Front conversation as returned by the listing endpoint.
type Conversation struct {
	ID            string            `json:"id"`
	Subject       string            `json:"subject"`
	Status        string            `json:"status"`
	CreatedAt     float64           `json:"created_at"`
	LastMessageAt *float64          `json:"last_message_at,omitempty"`
	Tags          []Tag             `json:"tags"`
	Recipient     *Contact          `json:"recipient"`
	Assignee      *Teammate         `json:"assignee"`
	Links         ConversationLinks `json:"_links"`
}

// Created returns created_at as a time.
func (c Conversation) Created() time.Time {
	return EpochTime(c.CreatedAt)
}

// ActivityAt is the timestamp used for incremental watermarks:
// last_message_at when present, created_at otherwise.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return EpochTime(*c.LastMessageAt)
	}
	return c.Created()
}

// ParentURL returns the cross-reference to a parent conversation, or "".
func (c Conversation) ParentURL() string {
	return c.Links.Related.ParentConversation
}

// TagNames returns tag names in listing order.
func (c Conversation) TagNames() []string {
	names := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		names = append(names, t.Name)
	}
	return names
}

// Message is a single message of a conversation.
type Message struct {
	ID         string    `json:"id"`
	IsInbound  bool      `json:"is_inbound"`
	CreatedAt  float64   `json:"created_at"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Text       string    `json:"text"`
	Author     *Teammate `json:"author"`
	Recipients []Contact `json:"recipients"`
}

// Sender returns the author email and name. Inbound messages usually have no
// teammate author, so the "from" recipient is used instead.
func (m Message) Sender() (email, name string) {
	if m.Author != nil {
		return m.Author.Email, m.Author.FullName()
	}
	for _, r := range m.Recipients {
		if r.Role == "from" {
			return r.Handle, r.Name
		}
	}
	return "", ""
}

// EpochTime converts Front's fractional epoch seconds to UTC time.
func EpochTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}
