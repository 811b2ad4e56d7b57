package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/frontcache/internal/frontapi"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI serves listings from memory. Page URLs are "mem://<inbox>/<n>".
type fakeAPI struct {
	mu        sync.Mutex
	inboxes   []frontapi.Inbox
	pages     map[string]frontapi.ConversationPage
	pageErr   map[string]error
	msgErr    map[string]error
	onMessage func(conversationID string)
	fetched   []string
	msgCalls  []string
	listCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:   make(map[string]frontapi.ConversationPage),
		pageErr: make(map[string]error),
		msgErr:  make(map[string]error),
	}
}

// addInbox registers an inbox whose listing is convs split into pages of per.
func (f *fakeAPI) addInbox(id, name string, per int, convs ...frontapi.Conversation) {
	f.inboxes = append(f.inboxes, frontapi.Inbox{ID: id, Name: name})
	if len(convs) == 0 {
		f.pages[f.ConversationsURL(id)] = frontapi.ConversationPage{}
		return
	}
	for start, n := 0, 1; start < len(convs); start, n = start+per, n+1 {
		end := min(start+per, len(convs))
		page := frontapi.ConversationPage{Results: convs[start:end]}
		if end < len(convs) {
			page.Next = pageURL(id, n+1)
		}
		f.pages[pageURL(id, n)] = page
	}
}

func pageURL(inboxID string, n int) string {
	return fmt.Sprintf("mem://%s/%d", inboxID, n)
}

func (f *fakeAPI) ListInboxes(context.Context) ([]frontapi.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.inboxes, nil
}

func (f *fakeAPI) ConversationsURL(inboxID string) string {
	return pageURL(inboxID, 1)
}

func (f *fakeAPI) FetchConversations(ctx context.Context, url string) (frontapi.ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err := ctx.Err(); err != nil {
		return frontapi.ConversationPage{}, err
	}
	if err := f.pageErr[url]; err != nil {
		return frontapi.ConversationPage{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return frontapi.ConversationPage{}, &frontapi.HTTPError{Status: 404, URL: url}
	}
	return page, nil
}

// ListMessages honours ctx the way the real client's limiter and request do.
func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]frontapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls = append(f.msgCalls, conversationID)
	if f.onMessage != nil {
		f.onMessage(conversationID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.msgErr[conversationID]; err != nil {
		return nil, err
	}
	return []frontapi.Message{{
		ID:        "msg_" + conversationID,
		IsInbound: true,
		CreatedAt: float64(epoch.Unix()),
		Text:      "hello from " + conversationID,
		Body:      "<p>hello</p>",
		Recipients: []frontapi.Contact{
			{Handle: "customer@example.com", Name: "Customer", Role: "from"},
		},
	}}, nil
}

func (f *fakeAPI) pageCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *fakeAPI) messageCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgCalls...)
}

// conv builds a listing item active at epoch+minutes. parent is a
// conversation id or "".
func conv(id string, minutes int, parent string) frontapi.Conversation {
	at := float64(epoch.Add(time.Duration(minutes) * time.Minute).Unix())
	c := frontapi.Conversation{
		ID:            id,
		Subject:       "subject " + id,
		Status:        "open",
		CreatedAt:     at,
		LastMessageAt: &at,
		Tags:          []frontapi.Tag{{Name: "support"}},
		Recipient:     &frontapi.Contact{Handle: id + "@example.com", Name: "Customer " + id},
	}
	if parent != "" {
		c.Links.Related.ParentConversation = "https://api2.frontapp.com/conversations/" + parent
	}
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
