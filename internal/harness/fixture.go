package harness

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/frontcache/internal/engine"
	"github.com/roach88/frontcache/internal/frontapi"
)

// Epoch is the time scenario minutes are counted from.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const fixtureBaseURL = "fixture://front"

var _ engine.API = (*fixtureAPI)(nil)

// fixtureAPI serves a scenario's account from memory. Listing page URLs are
// "fixture://front/inboxes/<id>/conversations?page=<n>".
type fixtureAPI struct {
	mu       sync.Mutex
	inboxes  []frontapi.Inbox
	pageSize map[string]int
	listings map[string][]ConversationFixture
	messages map[string]int
	faults   Faults
}

func newFixtureAPI(fixtures []InboxFixture) *fixtureAPI {
	api := &fixtureAPI{
		pageSize: make(map[string]int),
		listings: make(map[string][]ConversationFixture),
		messages: make(map[string]int),
	}
	for _, in := range fixtures {
		name := in.Name
		if name == "" {
			name = in.ID
		}
		api.inboxes = append(api.inboxes, frontapi.Inbox{ID: in.ID, Name: name})
		api.pageSize[in.ID] = in.PageSize
		api.add(in.ID, in.Conversations)
	}
	return api
}

// add puts convs at the top of the inbox listing, in the given order.
func (f *fixtureAPI) add(inboxID string, convs []ConversationFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()

	listing := f.listings[inboxID]
	for _, c := range convs {
		listing = slices.DeleteFunc(listing, func(o ConversationFixture) bool { return o.ID == c.ID })
	}
	f.listings[inboxID] = append(slices.Clone(convs), listing...)
	for _, c := range convs {
		n := 1
		if c.Messages != nil {
			n = *c.Messages
		}
		f.messages[c.ID] = n
	}
}

// remove deletes ids from every listing.
func (f *fixtureAPI) remove(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for inboxID, listing := range f.listings {
		f.listings[inboxID] = slices.DeleteFunc(listing, func(c ConversationFixture) bool {
			return slices.Contains(ids, c.ID)
		})
	}
}

func (f *fixtureAPI) setFaults(faults Faults) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = faults
}

func (f *fixtureAPI) ListInboxes(context.Context) ([]frontapi.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.inboxes), nil
}

func (f *fixtureAPI) ConversationsURL(inboxID string) string {
	return pageURL(inboxID, 1)
}

func pageURL(inboxID string, n int) string {
	return fmt.Sprintf("%s/inboxes/%s/conversations?page=%d", fixtureBaseURL, inboxID, n)
}

func parsePageURL(url string) (inboxID string, n int, ok bool) {
	rest, found := strings.CutPrefix(url, fixtureBaseURL+"/inboxes/")
	if !found {
		return "", 0, false
	}
	inboxID, query, found := strings.Cut(rest, "/conversations?page=")
	if !found {
		return "", 0, false
	}
	n, err := strconv.Atoi(query)
	if err != nil || n < 1 {
		return "", 0, false
	}
	return inboxID, n, true
}

func (f *fixtureAPI) FetchConversations(ctx context.Context, url string) (frontapi.ConversationPage, error) {
	if err := ctx.Err(); err != nil {
		return frontapi.ConversationPage{}, err
	}
	inboxID, n, ok := parsePageURL(url)
	if !ok {
		return frontapi.ConversationPage{}, &frontapi.HTTPError{Status: 404, URL: url}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pf := range f.faults.Pages {
		if pf.Inbox == inboxID && pf.Page == n {
			return frontapi.ConversationPage{}, &frontapi.HTTPError{Status: 503, URL: url}
		}
	}

	listing, known := f.listings[inboxID]
	if !known {
		return frontapi.ConversationPage{}, &frontapi.HTTPError{Status: 404, URL: url}
	}
	size := f.pageSize[inboxID]
	if size <= 0 {
		size = max(len(listing), 1)
	}

	start := (n - 1) * size
	if start > len(listing) {
		start = len(listing)
	}
	end := min(start+size, len(listing))

	page := frontapi.ConversationPage{}
	for _, c := range listing[start:end] {
		page.Results = append(page.Results, c.toAPI())
	}
	if end < len(listing) {
		page.Next = pageURL(inboxID, n+1)
	}
	return page, nil
}

func (f *fixtureAPI) ListMessages(ctx context.Context, conversationID string) ([]frontapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if slices.Contains(f.faults.Messages, conversationID) {
		return nil, &frontapi.HTTPError{
			Status: 500,
			URL:    fmt.Sprintf("%s/conversations/%s/messages", fixtureBaseURL, conversationID),
		}
	}

	out := make([]frontapi.Message, 0, f.messages[conversationID])
	for i := range f.messages[conversationID] {
		out = append(out, frontapi.Message{
			ID:        fmt.Sprintf("msg_%s_%d", conversationID, i+1),
			IsInbound: i%2 == 0,
			CreatedAt: float64(Epoch.Unix() + int64(i)),
			Text:      fmt.Sprintf("message %d of %s", i+1, conversationID),
			Recipients: []frontapi.Contact{
				{Handle: "customer@example.com", Name: "Customer", Role: "from"},
			},
		})
	}
	return out, nil
}

func (c ConversationFixture) toAPI() frontapi.Conversation {
	minutes := func(m int) float64 {
		return float64(Epoch.Add(time.Duration(m) * time.Minute).Unix())
	}

	out := frontapi.Conversation{
		ID:        c.ID,
		Subject:   c.Subject,
		Status:    c.Status,
		CreatedAt: minutes(c.Minute),
	}
	if out.Subject == "" {
		out.Subject = "subject " + c.ID
	}
	if out.Status == "" {
		out.Status = "open"
	}
	if c.LastMessage != 0 {
		at := minutes(c.LastMessage)
		out.LastMessageAt = &at
	}
	for _, t := range c.Tags {
		out.Tags = append(out.Tags, frontapi.Tag{Name: t})
	}
	if c.Parent != "" {
		out.Links.Related.ParentConversation = fixtureBaseURL + "/conversations/" + c.Parent
	}
	return out
}
