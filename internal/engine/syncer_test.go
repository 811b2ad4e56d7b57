package engine

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/frontapi"
	"github.com/roach88/frontcache/internal/memstore"
	"github.com/roach88/frontcache/internal/pager"
)

func newTestSyncer(api API, st cache.Storage) *Syncer {
	return New(api, st,
		WithLogger(quietLogger()),
		WithNow(func() time.Time { return epoch.Add(24 * time.Hour) }),
		WithRunIDs(NewFixedGenerator("run-a", "run-b", "run-c")),
	)
}

func tenItems() []frontapi.Conversation {
	var convs []frontapi.Conversation
	for i := 1; i <= 10; i++ {
		convs = append(convs, conv("i"+strconv.Itoa(i), 101-i, ""))
	}
	return convs
}

func TestRun_InitThreadsAndCheckpoint(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 100,
		conv("c1", 30, ""),
		conv("c2", 20, "c1"),
		conv("c3", 10, ""),
	)
	st := memstore.New()

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)

	for id, want := range map[string]struct {
		parent string
		depth  int
	}{
		"c1": {"", 0},
		"c2": {"c1", 1},
		"c3": {"", 0},
	} {
		c, ok := st.Conversation(id)
		require.True(t, ok, id)
		assert.Equal(t, want.parent, c.ParentID, id)
		assert.Equal(t, want.depth, c.ThreadDepth, id)
		assert.Equal(t, "P1", c.InboxID)
	}

	state, err := st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.TotalSynced)
	assert.Equal(t, "c3", state.LastItemID)
	require.NotNil(t, state.LastItemAt)
	assert.Equal(t, epoch.Add(30*time.Minute), *state.LastItemAt)

	assert.Equal(t, "run-a", sum.RunID)
	assert.Equal(t, 1, sum.Inboxes)
	assert.Equal(t, 3, sum.Conversations)
	assert.Equal(t, 3, sum.Messages)
	assert.Equal(t, 1, sum.Threads)
	assert.Zero(t, sum.DepthsRepaired)
	assert.True(t, sum.OK())
	require.Len(t, sum.InboxResults, 1)
	assert.Equal(t, pager.StopEnd, sum.InboxResults[0].StopReason)

	msgs := st.Messages("c2")
	require.Len(t, msgs, 1)
	assert.Equal(t, "customer@example.com", msgs[0].AuthorEmail)
	assert.Equal(t, "Customer", msgs[0].AuthorName)

	stats, err := st.Stats(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stats.Inboxes, 1)
	assert.Equal(t, 3, stats.Inboxes[0].ConversationCount)
}

func TestRun_Idempotent(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 2, conv("c1", 30, ""), conv("c2", 20, "c1"), conv("c3", 10, ""))
	st := memstore.New()
	s := newTestSyncer(api, st)

	_, err := s.Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)
	first, err := st.Stats(context.Background(), 0)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)
	second, err := st.Stats(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, first.Conversations, second.Conversations)
	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, 3, second.Conversations)

	state, err := st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.TotalSynced, "init counts from zero")
}

func TestRun_ResumeFromAnchor(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 3, tenItems()...)
	st := memstore.New()
	s := newTestSyncer(api, st)

	sum, err := s.Run(context.Background(), Options{Mode: ModeInit, Limit: 6})
	require.NoError(t, err)
	assert.Equal(t, pager.StopLimit, sum.InboxResults[0].StopReason)

	state, err := st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "i6", state.LastItemID)
	assert.Equal(t, 6, state.TotalSynced)

	before := len(api.messageCalls())
	sum, err = s.Run(context.Background(), Options{Mode: ModeResume})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"i7", "i8", "i9", "i10"}, api.messageCalls()[before:])
	assert.Equal(t, 4, sum.Conversations)
	assert.Equal(t, 6, sum.InboxResults[0].Skipped)
	assert.Equal(t, pager.StopEnd, sum.InboxResults[0].StopReason)

	state, err = st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, state.TotalSynced)
	assert.Equal(t, "i10", state.LastItemID)
}

func TestRun_ResumePointNotFound(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 3, tenItems()...)
	st := memstore.New()
	gone := "i99"
	require.NoError(t, st.UpsertSyncState(context.Background(), "P1", cache.SyncStateUpdate{LastItemID: &gone}))

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeResume})
	require.NoError(t, err, "a missing anchor is not a failure")

	assert.True(t, sum.OK())
	assert.Zero(t, sum.Conversations)
	assert.Equal(t, 10, sum.InboxResults[0].Skipped)
	assert.Equal(t, pager.StopResumeNotFound, sum.InboxResults[0].StopReason)
	assert.Empty(t, api.messageCalls())
}

func TestRun_ResumeFallsBackToLastWritten(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 5, tenItems()...)
	st := memstore.New()

	// A cache written before anchors were checkpointed.
	for _, c := range tenItems()[:3] {
		require.NoError(t, st.UpsertConversation(context.Background(), cache.Conversation{ID: c.ID, InboxID: "P1"}))
	}

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeResume})
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Conversations)
	calls := api.messageCalls()
	assert.Len(t, calls, 7)
	assert.Contains(t, calls, "i4")
	assert.NotContains(t, calls, "i3")
}

func TestRun_IncrementalSince(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 3, tenItems()...)
	st := memstore.New()

	// i4 is active at minute 97.
	watermark := epoch.Add(97 * time.Minute)
	total := 10
	require.NoError(t, st.UpsertSyncState(context.Background(), "P1", cache.SyncStateUpdate{
		LastItemAt:  &watermark,
		TotalSynced: &total,
	}))

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeSync})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"i1", "i2", "i3", "i4"}, api.messageCalls())
	assert.Equal(t, pager.StopWatermark, sum.InboxResults[0].StopReason)
	assert.Equal(t, 2, sum.InboxResults[0].Pages)

	state, err := st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 14, state.TotalSynced)
	assert.Equal(t, epoch.Add(100*time.Minute), *state.LastItemAt)
}

func TestRun_PartitionFailureIsolated(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("A", "Alpha", 2, conv("a1", 40, ""), conv("a2", 30, ""), conv("a3", 20, ""), conv("a4", 10, ""))
	api.addInbox("B", "Beta", 2, conv("b1", 40, ""), conv("b2", 30, ""))
	api.pageErr[pageURL("A", 2)] = &frontapi.RateLimitExceededError{URL: pageURL("A", 2), Attempts: 5}
	st := memstore.New()

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err, "a partition failure is not run-wide")

	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "A", sum.Failures[0].InboxID)
	assert.Equal(t, 2, sum.Failures[0].Page)
	assert.Contains(t, sum.Failures[0].Error, "rate limit")
	assert.Equal(t, 1, sum.Inboxes)
	assert.Equal(t, 4, sum.Conversations)

	a, err := st.GetSyncState(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalSynced, "page 1 checkpoint survives")
	assert.Equal(t, "a2", a.LastItemID)

	b, err := st.GetSyncState(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, 2, b.TotalSynced)
}

func TestRun_MessageFetchFailureIsolated(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 10, conv("c1", 30, ""), conv("c2", 20, ""), conv("c3", 10, ""))
	api.msgErr["c2"] = &frontapi.HTTPError{Status: 500, URL: "mem://c2/messages"}
	st := memstore.New()

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)

	assert.Len(t, st.Messages("c1"), 1)
	assert.Empty(t, st.Messages("c2"))
	assert.Len(t, st.Messages("c3"), 1)
	assert.Equal(t, 1, sum.FailedRecords)
	assert.Equal(t, 3, sum.Conversations)
	assert.True(t, sum.OK())
}

func TestRun_StorageErrorSkipsRecord(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 10, conv("c1", 30, ""), conv("c2", 20, ""), conv("c3", 10, ""))
	st := memstore.New()
	st.FailConversation = func(id string) error {
		if id == "c2" {
			return errors.New("constraint failed")
		}
		return nil
	}

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)

	_, ok := st.Conversation("c2")
	assert.False(t, ok)
	assert.Equal(t, 2, sum.Conversations)
	assert.Equal(t, 1, sum.FailedRecords)
	assert.NotContains(t, api.messageCalls(), "c2", "no messages for a conversation that was not written")
}

func TestRun_ForwardReferenceRepaired(t *testing.T) {
	api := newFakeAPI()
	// Children listed before their parents.
	api.addInbox("P1", "Support", 10,
		conv("leaf", 30, "mid"),
		conv("mid", 20, "root"),
		conv("root", 10, ""),
	)
	st := memstore.New()

	sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)

	leaf, _ := st.Conversation("leaf")
	mid, _ := st.Conversation("mid")
	root, _ := st.Conversation("root")
	assert.Equal(t, 0, root.ThreadDepth)
	assert.Equal(t, 1, mid.ThreadDepth)
	assert.Equal(t, 2, leaf.ThreadDepth)
	assert.Equal(t, 1, sum.DepthsRepaired)
	assert.Equal(t, 2, sum.Threads)
}

func TestRun_MissingCredential(t *testing.T) {
	st := memstore.New()

	_, err := newTestSyncer(nil, st).Run(context.Background(), Options{Mode: ModeInit})
	assert.ErrorIs(t, err, frontapi.ErrMissingCredential)
}

func TestRun_StatsIsReadOnly(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.UpsertConversation(context.Background(), cache.Conversation{ID: "c1", InboxID: "P1", Status: "open"}))

	sum, err := newTestSyncer(nil, st).Run(context.Background(), Options{Mode: ModeStats})
	require.NoError(t, err)
	require.NotNil(t, sum.Stats)
	assert.Equal(t, 1, sum.Stats.Conversations)
	assert.Empty(t, sum.InboxResults)
}

func TestRun_InboxFilter(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("inb_a", "Alpha", 10, conv("a1", 10, ""))
	api.addInbox("inb_b", "Beta", 10, conv("b1", 10, ""))

	t.Run("by name", func(t *testing.T) {
		st := memstore.New()
		sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit, Inbox: "beta"})
		require.NoError(t, err)
		require.Len(t, sum.InboxResults, 1)
		assert.Equal(t, "inb_b", sum.InboxResults[0].InboxID)
	})

	t.Run("by id", func(t *testing.T) {
		st := memstore.New()
		sum, err := newTestSyncer(api, st).Run(context.Background(), Options{Mode: ModeInit, Inbox: "inb_a"})
		require.NoError(t, err)
		require.Len(t, sum.InboxResults, 1)
		assert.Equal(t, "Alpha", sum.InboxResults[0].Name)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := newTestSyncer(api, memstore.New()).Run(context.Background(), Options{Mode: ModeInit, Inbox: "gamma"})
		assert.True(t, IsInboxNotFound(err))
	})
}

func TestRun_ProgressPerPage(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 3, tenItems()...)

	var pages []PageProgress
	_, err := newTestSyncer(api, memstore.New()).Run(context.Background(), Options{
		Mode:     ModeInit,
		Progress: func(p PageProgress) { pages = append(pages, p) },
	})
	require.NoError(t, err)

	require.Len(t, pages, 4)
	assert.Equal(t, 3, pages[0].Conversations)
	assert.Equal(t, 3, pages[0].TotalSynced)
	assert.False(t, pages[0].Done)
	assert.Equal(t, 1, pages[3].Conversations)
	assert.Equal(t, 10, pages[3].TotalSynced)
	assert.True(t, pages[3].Done)
	assert.Equal(t, pager.StopEnd, pages[3].Reason)
}

func TestRun_CancelledStopsBetweenInboxes(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("A", "Alpha", 10, conv("a1", 10, ""))
	api.addInbox("B", "Beta", 10, conv("b1", 10, ""))
	st := memstore.New()

	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSyncer(api, st)
	_, err := s.Run(ctx, Options{
		Mode:     ModeInit,
		Progress: func(PageProgress) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)

	_, ok := st.Conversation("b1")
	assert.False(t, ok, "second inbox never started")
	state, err := st.GetSyncState(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, state.TotalSynced)
}

func TestRun_InterruptedPageMessagesResumed(t *testing.T) {
	var convs []frontapi.Conversation
	for i := 1; i <= 6; i++ {
		convs = append(convs, conv("c"+strconv.Itoa(i), 100-i, ""))
	}
	api := newFakeAPI()
	api.addInbox("P1", "Support", 3, convs...)
	st := memstore.New()

	// SIGINT lands while page 1's messages are in flight.
	ctx, cancel := context.WithCancel(context.Background())
	api.onMessage = func(string) { cancel() }

	s := newTestSyncer(api, st)
	sum, err := s.Run(ctx, Options{Mode: ModeInit})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	require.Len(t, sum.InboxResults, 1)
	assert.True(t, sum.InboxResults[0].Interrupted)
	assert.Empty(t, sum.Failures, "an interrupt is not a remote failure")
	assert.Equal(t, 0, sum.Inboxes)
	assert.Equal(t, 0, sum.FailedRecords)
	assert.Equal(t, 3, sum.Conversations)

	pending, err := st.PendingMessages(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, pending)

	api.onMessage = nil
	sum, err = s.Run(context.Background(), Options{Mode: ModeResume})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Recovered)
	assert.Equal(t, 3, sum.Conversations)
	assert.Equal(t, 6, sum.Messages)

	for _, c := range convs {
		assert.Len(t, st.Messages(c.ID), 1, c.ID)
	}
	pending, err = st.PendingMessages(context.Background(), "P1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_InterruptBetweenPagesIsNotAFailure(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 1, conv("c1", 20, ""), conv("c2", 10, ""))
	st := memstore.New()

	ctx, cancel := context.WithCancel(context.Background())
	sum, err := newTestSyncer(api, st).Run(ctx, Options{
		Mode:     ModeInit,
		Progress: func(PageProgress) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, sum.Failures)
	require.Len(t, sum.InboxResults, 1)
	assert.True(t, sum.InboxResults[0].Interrupted)
	assert.Empty(t, sum.InboxResults[0].Error)
	assert.Equal(t, []string{pageURL("P1", 1)}, api.pageCalls(), "no fetch after the interrupt")

	state, err := st.GetSyncState(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "c1", state.LastItemID)
	assert.Equal(t, 1, state.TotalSynced)
}

func TestRun_FailedMessagesRetried(t *testing.T) {
	for _, mode := range []Mode{ModeResume, ModeSync} {
		t.Run(string(mode), func(t *testing.T) {
			api := newFakeAPI()
			api.addInbox("P1", "Support", 2, conv("c1", 30, ""), conv("c2", 20, ""), conv("c3", 10, ""))
			api.msgErr["c2"] = &frontapi.HTTPError{Status: 503, URL: "mem://c2/messages"}
			st := memstore.New()
			s := newTestSyncer(api, st)

			sum, err := s.Run(context.Background(), Options{Mode: ModeInit})
			require.NoError(t, err)
			assert.Equal(t, 1, sum.FailedRecords)
			assert.Empty(t, st.Messages("c2"))

			delete(api.msgErr, "c2")
			sum, err = s.Run(context.Background(), Options{Mode: mode})
			require.NoError(t, err)

			assert.Len(t, st.Messages("c2"), 1)
			assert.Equal(t, 1, sum.Recovered)
			assert.Equal(t, 0, sum.FailedRecords)
			pending, err := st.PendingMessages(context.Background(), "P1")
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestRun_StillFailingMessagesStayPending(t *testing.T) {
	api := newFakeAPI()
	api.addInbox("P1", "Support", 10, conv("c1", 20, ""), conv("c2", 10, ""))
	api.msgErr["c2"] = &frontapi.HTTPError{Status: 500, URL: "mem://c2/messages"}
	st := memstore.New()
	s := newTestSyncer(api, st)

	_, err := s.Run(context.Background(), Options{Mode: ModeInit})
	require.NoError(t, err)
	sum, err := s.Run(context.Background(), Options{Mode: ModeResume})
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Recovered)
	assert.Equal(t, 1, sum.FailedRecords)
	pending, err := st.PendingMessages(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, pending)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Resume ")
	require.NoError(t, err)
	assert.Equal(t, ModeResume, m)

	_, err = ParseMode("backfill")
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownMode, re.Code)
}
