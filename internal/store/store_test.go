// ABOUTME: Behavior tests run against every Store implementation
// ABOUTME: Keeps SQLiteStore and MockStore in agreement on ordering, paging and read state

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "inbox.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})

	t.Run("mock", func(t *testing.T) {
		fn(t, NewMockStore())
	})
}

func createConv(t *testing.T, s Store, id string, participants ...string) *Conversation {
	t.Helper()
	conv := &Conversation{ID: id, ParticipantIDs: participants, CreatedAt: base}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func saveMsg(t *testing.T, s Store, convID, id, sender, body string, sentAt time.Time) *Message {
	t.Helper()
	msg := &Message{ID: id, ConversationID: convID, SenderID: sender, Body: body, SentAt: sentAt}
	require.NoError(t, s.SaveMessage(context.Background(), msg))
	return msg
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStore_CreateAndGetConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
		assert.Equal(t, []string{"alice", "bob"}, got.ParticipantIDs)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.True(t, got.LastActivity.Equal(base))
	})
}

func TestStore_CreateConversation_FillsDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		conv := &Conversation{ParticipantIDs: []string{"alice", "alice", "", "bob"}}
		require.NoError(t, s.CreateConversation(context.Background(), conv))

		assert.NotEmpty(t, conv.ID)
		assert.False(t, conv.CreatedAt.IsZero())
		assert.Equal(t, []string{"alice", "bob"}, conv.ParticipantIDs)
	})
}

func TestStore_CreateConversation_RequiresParticipants(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.CreateConversation(context.Background(), &Conversation{ID: "c1"})
		assert.Error(t, err)
	})
}

func TestStore_DirectConversationIsUniquePerPair(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		err := s.CreateConversation(ctx, &Conversation{ID: "c2", ParticipantIDs: []string{"bob", "alice"}})
		assert.ErrorIs(t, err, ErrDuplicate)

		got, err := s.FindDirectConversation(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)

		_, err = s.FindDirectConversation(ctx, "alice", "carol")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GroupConversationsHaveNoDirectKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		createConv(t, s, "g1", "alice", "bob", "carol")
		createConv(t, s, "g2", "alice", "bob", "carol")

		_, err := s.FindDirectConversation(context.Background(), "alice", "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetConversation(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_IsParticipant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		ok, err := s.IsParticipant(ctx, "c1", "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.IsParticipant(ctx, "c1", "mallory")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.IsParticipant(ctx, "missing", "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_SaveMessage_AssignsIncreasingSeq(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		createConv(t, s, "c1", "alice", "bob")

		m1 := saveMsg(t, s, "c1", "m1", "alice", "hi", base.Add(time.Second))
		m2 := saveMsg(t, s, "c1", "m2", "bob", "hey", base.Add(time.Second))

		assert.Greater(t, m2.Seq, m1.Seq)
	})
}

func TestStore_SaveMessage_Errors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")
		saveMsg(t, s, "c1", "m1", "alice", "hi", base)

		err := s.SaveMessage(ctx, &Message{ID: "m2", ConversationID: "missing", SenderID: "alice", Body: "x"})
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.SaveMessage(ctx, &Message{ID: "m3", ConversationID: "c1", SenderID: "mallory", Body: "x"})
		assert.ErrorIs(t, err, ErrNotParticipant)

		err = s.SaveMessage(ctx, &Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Body: "again"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestStore_SaveMessage_BumpsLastActivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		saveMsg(t, s, "c1", "m1", "alice", "later", base.Add(time.Hour))
		saveMsg(t, s, "c1", "m2", "bob", "backdated", base.Add(time.Minute))

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.LastActivity.Equal(base.Add(time.Hour)), "backdated message must not move activity backwards")
	})
}

func TestStore_GetMessages_OldestFirstWithStableTies(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		createConv(t, s, "c1", "alice", "bob")
		saveMsg(t, s, "c1", "late", "alice", "3", base.Add(3*time.Second))
		saveMsg(t, s, "c1", "tie-a", "bob", "1", base.Add(time.Second))
		saveMsg(t, s, "c1", "tie-b", "alice", "2", base.Add(time.Second))

		res, err := s.GetMessages(context.Background(), GetMessagesParams{ConversationID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tie-a", "tie-b", "late"}, ids(res.Messages))
		assert.False(t, res.HasMore)
		assert.Empty(t, res.NextCursor)
	})
}

func TestStore_GetMessages_Pagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")
		for i := 0; i < 5; i++ {
			saveMsg(t, s, "c1", fmt.Sprintf("m%d", i), "alice", "x", base.Add(time.Duration(i/2)*time.Second))
		}

		var all []string
		cursor := ""
		pages := 0
		for {
			res, err := s.GetMessages(ctx, GetMessagesParams{ConversationID: "c1", Limit: 2, Cursor: cursor})
			require.NoError(t, err)
			all = append(all, ids(res.Messages)...)
			pages++
			if !res.HasMore {
				break
			}
			require.NotEmpty(t, res.NextCursor)
			cursor = res.NextCursor
		}

		assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, all)
		assert.Equal(t, 3, pages)
	})
}

func TestStore_GetMessages_Errors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		_, err := s.GetMessages(ctx, GetMessagesParams{ConversationID: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetMessages(ctx, GetMessagesParams{ConversationID: "c1", Cursor: "not base64!"})
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})
}

func TestStore_GetMessages_Attachments(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")

		msg := &Message{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "alice",
			Body:           "quote attached",
			SentAt:         base,
			Attachments:    []Attachment{{URL: "https://files.example/q.pdf", Type: "application/pdf", Name: "q.pdf"}},
		}
		require.NoError(t, s.SaveMessage(ctx, msg))

		res, err := s.GetMessages(ctx, GetMessagesParams{ConversationID: "c1"})
		require.NoError(t, err)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, msg.Attachments, res.Messages[0].Attachments)
		assert.True(t, res.Messages[0].SentAt.Equal(base))
	})
}

func TestStore_MarkConversationRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "c1", "alice", "bob")
		saveMsg(t, s, "c1", "m1", "bob", "one", base)
		saveMsg(t, s, "c1", "m2", "bob", "two", base.Add(time.Second))
		saveMsg(t, s, "c1", "m3", "alice", "mine", base.Add(2*time.Second))

		n, err := s.MarkConversationRead(ctx, "c1", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.MarkConversationRead(ctx, "c1", "alice")
		require.NoError(t, err)
		assert.Equal(t, 0, n, "second mark is a no-op")

		res, err := s.GetMessages(ctx, GetMessagesParams{ConversationID: "c1"})
		require.NoError(t, err)
		read := map[string]bool{}
		for _, m := range res.Messages {
			read[m.ID] = m.Read
		}
		assert.Equal(t, map[string]bool{"m1": true, "m2": true, "m3": false}, read)

		_, err = s.MarkConversationRead(ctx, "missing", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListConversationsForUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createConv(t, s, "quiet", "alice", "bob")
		createConv(t, s, "busy", "alice", "carol")
		createConv(t, s, "other", "bob", "carol")

		saveMsg(t, s, "busy", "m1", "carol", "first", base.Add(time.Minute))
		saveMsg(t, s, "busy", "m2", "carol", "latest", base.Add(2*time.Minute))
		saveMsg(t, s, "busy", "m3", "alice", "reply", base.Add(90*time.Second))
		saveMsg(t, s, "other", "m4", "bob", "not alice's", base.Add(time.Hour))

		list, err := s.ListConversationsForUser(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, list, 2)

		assert.Equal(t, "busy", list[0].ID)
		assert.Equal(t, "latest", list[0].LastMessage)
		assert.Equal(t, 2, list[0].UnreadCount)
		assert.Equal(t, []string{"alice", "carol"}, list[0].ParticipantIDs)

		assert.Equal(t, "quiet", list[1].ID)
		assert.Empty(t, list[1].LastMessage)
		assert.Equal(t, 0, list[1].UnreadCount)

		_, err = s.MarkConversationRead(ctx, "busy", "alice")
		require.NoError(t, err)
		list, err = s.ListConversationsForUser(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 0, list[0].UnreadCount)
	})
}

func TestStore_ListConversationsForUser_TiesByID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		createConv(t, s, "b", "alice", "bob")
		createConv(t, s, "a", "alice", "carol")

		list, err := s.ListConversationsForUser(context.Background(), "alice", 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].ID)
		assert.Equal(t, "b", list[1].ID)
	})
}

func TestStore_Ping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestStore_ListConversationsForUser_NoLimitReturnsAll(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const total = maxConversationLimit/10 + 50
		for i := range total {
			createConv(t, s, fmt.Sprintf("conv-%03d", i), "alice", fmt.Sprintf("peer-%03d", i))
		}

		list, err := s.ListConversationsForUser(ctx, "alice", 0)
		require.NoError(t, err)
		assert.Len(t, list, total)

		list, err = s.ListConversationsForUser(ctx, "alice", 20)
		require.NoError(t, err)
		assert.Len(t, list, 20)
	})
}

func TestNormalizeConversationLimit(t *testing.T) {
	assert.Equal(t, 0, normalizeConversationLimit(0))
	assert.Equal(t, 0, normalizeConversationLimit(-1))
	assert.Equal(t, 7, normalizeConversationLimit(7))
	assert.Equal(t, maxConversationLimit, normalizeConversationLimit(maxConversationLimit+1))
}

func TestNormalizeMessageLimit(t *testing.T) {
	assert.Equal(t, defaultMessageLimit, normalizeMessageLimit(0))
	assert.Equal(t, defaultMessageLimit, normalizeMessageLimit(-5))
	assert.Equal(t, 20, normalizeMessageLimit(20))
	assert.Equal(t, maxMessageLimit, normalizeMessageLimit(maxMessageLimit+1))
}

func TestDirectKey(t *testing.T) {
	assert.Equal(t, directKey([]string{"bob", "alice"}), directKey([]string{"alice", "bob"}))
	assert.Empty(t, directKey([]string{"alice"}))
	assert.Empty(t, directKey([]string{"alice", "alice"}))
	assert.Empty(t, directKey([]string{"a", "b", "c"}))
}
