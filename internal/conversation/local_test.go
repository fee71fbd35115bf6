// ABOUTME: Tests for LocalBackend, driving the inbox sync layer against a real Service
// ABOUTME: Covers history, live delivery, read convergence and subscription teardown

package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketplace-inbox/internal/inbox"
	"github.com/2389/marketplace-inbox/internal/store"
)

func TestLocalBackend_FetchConversationsAndMessages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	convID := startConversation(t, svc, "buyer", "seller")

	backend := NewLocalBackend(svc, "seller", nil)

	convs, err := backend.FetchConversations(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].ID)
	assert.Equal(t, "hello", convs[0].LastMessage)
	assert.Equal(t, 1, convs[0].UnreadCount)

	msgs, err := backend.FetchMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "buyer", msgs[0].SenderID)

	outsider := NewLocalBackend(svc, "stranger", nil)
	_, err = outsider.FetchMessages(ctx, convID)
	assert.ErrorIs(t, err, store.ErrNotParticipant)
}

func TestLocalBackend_LoadsEveryConversation(t *testing.T) {
	svc, _ := newTestService(t)
	const total = 150
	for i := range total {
		startConversation(t, svc, fmt.Sprintf("buyer-%03d", i), "seller")
	}

	convs, err := inbox.NewConversationStore(NewLocalBackend(svc, "seller", nil), "seller", nil).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, convs, total)
}

func TestLocalBackend_SubscribeToMessages(t *testing.T) {
	svc, _ := newTestService(t)
	convID := startConversation(t, svc, "buyer", "seller")
	backend := NewLocalBackend(svc, "seller", nil)

	got := make(chan inbox.Message, 1)
	sub, err := backend.SubscribeToMessages(context.Background(), convID, func(m inbox.Message) { got <- m })
	require.NoError(t, err)
	defer sub.Close()

	err = backend.SendMessage(context.Background(), inbox.SendParams{
		ConversationID: convID,
		SenderID:       "seller",
		Content:        "see attached",
		Attachments:    []inbox.Attachment{{URL: "https://files.example/a.png", Type: "image/png", Name: "a.png"}},
	})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "see attached", m.Body)
		assert.Equal(t, convID, m.ConversationID)
		require.Len(t, m.Attachments, 1)
		assert.Equal(t, "a.png", m.Attachments[0].Name)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLocalBackend_SubscriptionCloseIsClean(t *testing.T) {
	svc, b := newTestService(t)
	convID := startConversation(t, svc, "buyer", "seller")
	backend := NewLocalBackend(svc, "seller", nil)

	sub, err := backend.SubscribeToMessages(context.Background(), convID, func(inbox.Message) {})
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, sub.Err())
	assert.Eventually(t, func() bool { return b.SubscriberCount(ConversationTopic(convID)) == 0 },
		time.Second, 10*time.Millisecond)
}

func TestLocalBackend_SubscriptionDropReportsError(t *testing.T) {
	svc, b := newTestService(t)
	backend := NewLocalBackend(svc, "seller", nil)

	sub, err := backend.SubscribeToConversations(context.Background(), "seller", func() {})
	require.NoError(t, err)

	b.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after broadcaster shutdown")
	}
	assert.ErrorIs(t, sub.Err(), ErrSubscriptionEnded)
}

func TestLocalBackend_SubscribeRejectsOutsiderAndCancelledContext(t *testing.T) {
	svc, _ := newTestService(t)
	convID := startConversation(t, svc, "buyer", "seller")

	_, err := NewLocalBackend(svc, "stranger", nil).SubscribeToMessages(context.Background(), convID, func(inbox.Message) {})
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocalBackend(svc, "seller", nil).SubscribeToMessages(ctx, convID, func(inbox.Message) {})
	assert.ErrorIs(t, err, context.Canceled)
}

// The sync layer running over the local backend: the viewed conversation's
// unread count converges to zero and pushes reach the open stream.
func TestLocalBackend_WithSyncLayer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	convID := startConversation(t, svc, "buyer", "seller")

	backend := NewLocalBackend(svc, "seller", nil)
	convStore := inbox.NewConversationStore(backend, "seller", nil)
	defer convStore.Close()

	convs, err := convStore.Load(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	_, err = convStore.Subscribe(ctx, func([]inbox.Conversation, error) {})
	require.NoError(t, err)

	stream := inbox.NewMessageStream(backend, "seller", nil)
	defer stream.Close()
	require.NoError(t, stream.Open(ctx, convID))

	assert.Eventually(t, func() bool {
		list := convStore.Conversations()
		return len(list) == 1 && list[0].UnreadCount == 0
	}, 2*time.Second, 10*time.Millisecond, "unread count should converge to zero")

	_, err = svc.SendMessage(ctx, SendRequest{ConversationID: convID, SenderID: "buyer", Content: "still there?"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		msgs := stream.Messages()
		return len(msgs) == 2 && msgs[1].Body == "still there?"
	}, 2*time.Second, 10*time.Millisecond)

	// The push came from the other party, so it gets marked read too.
	assert.Eventually(t, func() bool {
		list := convStore.Conversations()
		return len(list) == 1 && list[0].UnreadCount == 0 && list[0].LastMessage == "still there?"
	}, 2*time.Second, 10*time.Millisecond)
}
