package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/frontcache/internal/cache"
)

func TestDepthOf_Unknown(t *testing.T) {
	s := createTestStore(t)

	depth, ok, err := s.DepthOf(context.Background(), "cnv_missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, depth)
}

func TestGetSyncState_Missing(t *testing.T) {
	s := createTestStore(t)

	st, err := s.GetSyncState(context.Background(), "inb_none")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLastWrittenConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.LastWrittenConversation(ctx, "inb_1")
	require.NoError(t, err)
	assert.Empty(t, id)

	for i, cid := range []string{"cnv_1", "cnv_2", "cnv_3"} {
		c := createTestConversation(cid, "inb_1", 0)
		c.SyncedAt = testEpoch.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.UpsertConversation(ctx, c))
	}
	other := createTestConversation("cnv_x", "inb_2", 0)
	other.SyncedAt = testEpoch.Add(time.Hour)
	require.NoError(t, s.UpsertConversation(ctx, other))

	id, err = s.LastWrittenConversation(ctx, "inb_1")
	require.NoError(t, err)
	assert.Equal(t, "cnv_3", id)
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInbox(ctx, cache.Inbox{ID: "inb_1", Name: "Support"}))
	require.NoError(t, s.UpsertInbox(ctx, cache.Inbox{ID: "inb_2", Name: "Billing"}))

	a := createTestConversation("cnv_a", "inb_1", 0)
	b := createTestConversation("cnv_b", "inb_1", time.Minute)
	b.ParentID = "cnv_a"
	b.ThreadDepth = 1
	b.Status = "archived"
	c := createTestConversation("cnv_c", "inb_2", 2*time.Minute)
	c.LastMessageAt = ptr(testEpoch.Add(10 * time.Hour))
	for _, conv := range []cache.Conversation{a, b, c} {
		require.NoError(t, s.UpsertConversation(ctx, conv))
	}
	_, err := s.InsertMessage(ctx, cache.Message{ID: "msg_1", ConversationID: "cnv_a", CreatedAt: testEpoch})
	require.NoError(t, err)
	require.NoError(t, s.RefreshInbox(ctx, "inb_1", testEpoch))
	require.NoError(t, s.UpsertSyncState(ctx, "inb_1", cache.SyncStateUpdate{TotalSynced: ptr(2)}))

	st, err := s.Stats(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, st.Conversations)
	assert.Equal(t, 1, st.Messages)
	assert.Equal(t, 1, st.Threads)

	require.Len(t, st.Inboxes, 2)
	assert.Equal(t, "Billing", st.Inboxes[0].Name)
	assert.Equal(t, 2, st.Inboxes[1].ConversationCount)

	assert.Equal(t, []cache.StatusCount{{Status: "open", Count: 2}, {Status: "archived", Count: 1}}, st.Statuses)

	require.Len(t, st.Recent, 2)
	assert.Equal(t, "cnv_c", st.Recent[0].ID)
	assert.Equal(t, "cnv_b", st.Recent[1].ID)

	require.Len(t, st.SyncStates, 1)
	assert.Equal(t, 2, st.SyncStates[0].TotalSynced)
}

func TestStats_Empty(t *testing.T) {
	s := createTestStore(t)

	st, err := s.Stats(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, st.Inboxes)
	assert.Empty(t, st.Recent)
	assert.Zero(t, st.Conversations)
}
