package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/frontcache/internal/cache"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks one assertion against the final cache.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertConversation:
		return h.assertConversation(ctx, a)
	case AssertSyncState:
		return h.assertSyncState(ctx, a)
	case AssertStopReason:
		return h.assertStopReason(a)
	case AssertMessageCount:
		return h.assertMessageCount(ctx, a)
	case AssertConversationCount:
		return h.assertConversationCount(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertConversation(ctx context.Context, a Assertion) error {
	c, err := h.store.GetConversation(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("read conversation %s: %w", a.ID, err)
	}
	if a.Absent {
		if c != nil {
			return &AssertionError{Type: a.Type, Expected: a.ID + " absent", Actual: "cached"}
		}
		return nil
	}
	if c == nil {
		return &AssertionError{Type: a.Type, Expected: a.ID + " cached", Actual: "absent"}
	}
	return matchFields(a.Type, a.ID, conversationFields(*c), a.Expect)
}

func (h *Harness) assertSyncState(ctx context.Context, a Assertion) error {
	st, err := h.store.GetSyncState(ctx, a.Inbox)
	if err != nil {
		return fmt.Errorf("read sync state %s: %w", a.Inbox, err)
	}
	if st == nil {
		return &AssertionError{Type: a.Type, Expected: "checkpoint for " + a.Inbox, Actual: "none"}
	}
	return matchFields(a.Type, a.Inbox, syncStateFields(*st), a.Expect)
}

func (h *Harness) assertStopReason(a Assertion) error {
	if a.Run > len(h.summaries) || h.summaries[a.Run-1] == nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("summary for run %d", a.Run), Actual: "none"}
	}
	for _, r := range h.summaries[a.Run-1].InboxResults {
		if r.InboxID != a.Inbox {
			continue
		}
		if string(r.StopReason) != a.Reason {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("run %d inbox %s stopped by %q", a.Run, a.Inbox, a.Reason),
				Actual:   fmt.Sprintf("%q", r.StopReason),
			}
		}
		return nil
	}
	return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("run %d walked inbox %s", a.Run, a.Inbox), Actual: "not walked"}
}

func (h *Harness) assertMessageCount(ctx context.Context, a Assertion) error {
	msgs, err := h.store.ListMessages(ctx, a.Conversation)
	if err != nil {
		return fmt.Errorf("read messages of %s: %w", a.Conversation, err)
	}
	if len(msgs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d messages for %s", a.Count, a.Conversation),
			Actual:   fmt.Sprintf("%d", len(msgs)),
		}
	}
	return nil
}

func (h *Harness) assertConversationCount(ctx context.Context, a Assertion) error {
	var n int
	if a.Inbox != "" {
		convs, err := h.store.ListConversations(ctx, a.Inbox)
		if err != nil {
			return fmt.Errorf("list conversations of %s: %w", a.Inbox, err)
		}
		n = len(convs)
	} else {
		st, err := h.store.Stats(ctx, 0)
		if err != nil {
			return fmt.Errorf("read stats: %w", err)
		}
		n = st.Conversations
	}
	if n != a.Count {
		scope := "in total"
		if a.Inbox != "" {
			scope = "in " + a.Inbox
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d conversations %s", a.Count, scope),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func conversationFields(c cache.Conversation) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"inbox_id":       c.InboxID,
		"subject":        c.Subject,
		"status":         c.Status,
		"customer_email": c.CustomerEmail,
		"assignee_email": c.AssigneeEmail,
		"tags":           c.Tags,
		"parent_id":      c.ParentID,
		"thread_depth":   c.ThreadDepth,
	}
}

func syncStateFields(s cache.SyncState) map[string]any {
	return map[string]any{
		"inbox_id":     s.InboxID,
		"last_item_id": s.LastItemID,
		"total_synced": s.TotalSynced,
	}
}

// matchFields checks expected against actual (subset semantics). Values
// compare by their printed form so YAML scalars match Go values.
func matchFields(kind, id string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: unknown field", k))
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(expected[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want %v)", k, got, expected[k]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s matching %v", id, expected),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}
