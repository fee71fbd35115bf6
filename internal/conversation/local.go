// ABOUTME: LocalBackend adapts Service to the inbox.Backend contract in-process
// ABOUTME: Also converts store records into the sync layer's Conversation and Message types

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/marketplace-inbox/internal/inbox"
	"github.com/2389/marketplace-inbox/internal/store"
)

// ErrSubscriptionEnded is reported by a subscription whose event channel
// closed without the owner closing it, e.g. on server shutdown.
var ErrSubscriptionEnded = errors.New("subscription ended")

// LocalBackend serves the sync layer from a Service in the same process.
// It acts for a single user, who must take part in every conversation it
// reads or subscribes to.
type LocalBackend struct {
	svc    *Service
	userID string
	logger *slog.Logger
}

// NewLocalBackend creates a backend acting as userID. Pass nil logger for default.
func NewLocalBackend(svc *Service, userID string, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		svc:    svc,
		userID: userID,
		logger: logger.With("component", "local_backend", "user_id", userID),
	}
}

// FetchConversations lists the user's conversations.
func (b *LocalBackend) FetchConversations(ctx context.Context, userID string) ([]inbox.Conversation, error) {
	summaries, err := b.svc.ListConversations(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]inbox.Conversation, len(summaries))
	for i, sum := range summaries {
		out[i] = ToInboxConversation(sum)
	}
	return out, nil
}

// SubscribeToConversations calls onChange whenever the user's list changes.
func (b *LocalBackend) SubscribeToConversations(ctx context.Context, userID string, onChange func()) (inbox.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.Background())
	events := b.svc.SubscribeConversations(subCtx, userID)
	return startSubscription(cancel, events, func(*Event) { onChange() }), nil
}

// FetchMessages returns the full history of a conversation.
func (b *LocalBackend) FetchMessages(ctx context.Context, conversationID string) ([]inbox.Message, error) {
	msgs, err := b.svc.AllMessages(ctx, b.userID, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]inbox.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ToInboxMessage(m)
	}
	return out, nil
}

// SendMessage posts a message into an existing conversation.
func (b *LocalBackend) SendMessage(ctx context.Context, params inbox.SendParams) error {
	_, err := b.svc.SendMessage(ctx, SendRequest{
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Content:        params.Content,
		Attachments:    ToStoreAttachments(params.Attachments),
	})
	return err
}

// MarkMessagesAsRead marks other participants' messages read for userID.
func (b *LocalBackend) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	_, err := b.svc.MarkRead(ctx, conversationID, userID)
	return err
}

// SubscribeToMessages calls onMessage for each new message in the conversation.
func (b *LocalBackend) SubscribeToMessages(ctx context.Context, conversationID string, onMessage func(inbox.Message)) (inbox.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The subscription outlives the call that created it.
	subCtx, cancel := context.WithCancel(context.Background())
	events, err := b.svc.SubscribeMessages(subCtx, b.userID, conversationID)
	if err != nil {
		cancel()
		return nil, err
	}
	return startSubscription(cancel, events, func(ev *Event) {
		if ev.Kind == EventMessage && ev.Message != nil {
			onMessage(ToInboxMessage(*ev.Message))
		}
	}), nil
}

// subscription pumps broadcaster events into a callback until closed.
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closing bool
	err     error
}

func startSubscription(cancel context.CancelFunc, events <-chan *Event, handle func(*Event)) *subscription {
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go sub.run(events, handle)
	return sub
}

func (s *subscription) run(events <-chan *Event, handle func(*Event)) {
	defer close(s.done)
	for ev := range events {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			continue
		}
		handle(ev)
	}

	s.mu.Lock()
	if !s.closing {
		s.err = ErrSubscriptionEnded
	}
	s.mu.Unlock()
	s.cancel()
}

// Close detaches the subscription. Safe to call more than once.
func (s *subscription) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ToInboxConversation converts a stored summary into the sync layer's type.
func ToInboxConversation(sum store.ConversationSummary) inbox.Conversation {
	return inbox.Conversation{
		ID:             sum.ID,
		ParticipantIDs: append([]string(nil), sum.ParticipantIDs...),
		LastMessage:    sum.LastMessage,
		UnreadCount:    sum.UnreadCount,
		LastActivity:   sum.LastActivity,
	}
}

// ToInboxMessage converts a stored message into the sync layer's type.
func ToInboxMessage(m store.Message) inbox.Message {
	msg := inbox.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		SentAt:         m.SentAt,
		Read:           m.Read,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, inbox.Attachment{URL: a.URL, Type: a.Type, Name: a.Name})
	}
	return msg
}

// ToStoreAttachments converts sync-layer attachments for persistence.
func ToStoreAttachments(in []inbox.Attachment) []store.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.Attachment, len(in))
	for i, a := range in {
		out[i] = store.Attachment{URL: a.URL, Type: a.Type, Name: a.Name}
	}
	return out
}

var _ inbox.Backend = (*LocalBackend)(nil)
