// ABOUTME: Service is the server-side conversation layer: persist first, then fan out
// ABOUTME: Enforces participation, trims content and publishes message and change events

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/marketplace-inbox/internal/store"
)

var (
	// ErrEmptyMessage is returned when a message has no content and no attachments.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrInvalidRecipient is returned when a direct conversation targets nobody or the sender.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// historyPageSize is the page size used when walking a full history.
const historyPageSize = 500

// Service is the central conversation layer. Every message is persisted
// before it is published, so subscribers never see a message that a
// history fetch could not return.
type Service struct {
	store       store.Store
	broadcaster *EventBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a conversation service. Pass nil logger for default.
func NewService(st store.Store, broadcaster *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SendRequest is a message posted into an existing conversation.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachments    []store.Attachment
}

// StartRequest is the first message from one user to another.
type StartRequest struct {
	SenderID    string
	RecipientID string
	Content     string
	Attachments []store.Attachment
}

// ListConversations returns the user's conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]store.ConversationSummary, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns a conversation the user takes part in.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !hasParticipant(conv, userID) {
		return nil, store.ErrNotParticipant
	}
	return conv, nil
}

// History returns one page of a conversation's messages, oldest first.
func (s *Service) History(ctx context.Context, userID string, params store.GetMessagesParams) (*store.GetMessagesResult, error) {
	if _, err := s.GetConversation(ctx, userID, params.ConversationID); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, params)
}

// AllMessages walks every page of a conversation's history.
func (s *Service) AllMessages(ctx context.Context, userID, conversationID string) ([]store.Message, error) {
	var all []store.Message
	params := store.GetMessagesParams{ConversationID: conversationID, Limit: historyPageSize}
	for {
		page, err := s.History(ctx, userID, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)
		if !page.HasMore {
			return all, nil
		}
		params.Cursor = page.NextCursor
	}
}

// SendMessage persists a message and then publishes it. The content is
// trimmed; a message with neither text nor attachments is rejected.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	conv, err := s.GetConversation(ctx, req.SenderID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Body:           content,
		Attachments:    req.Attachments,
		SentAt:         s.now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender", req.SenderID)

	s.broadcaster.Publish(ConversationTopic(conv.ID), &Event{
		ID:             uuid.New().String(),
		Kind:           EventMessage,
		ConversationID: conv.ID,
		Message:        msg,
	})
	for _, userID := range conv.ParticipantIDs {
		s.notifyUser(userID, conv.ID)
	}

	return msg, nil
}

// StartDirect sends the first message between two users, creating their
// conversation if it doesn't exist yet. Later calls reuse it.
func (s *Service) StartDirect(ctx context.Context, req StartRequest) (*store.Message, error) {
	if req.RecipientID == "" || req.RecipientID == req.SenderID {
		return nil, ErrInvalidRecipient
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	conv, err := s.ensureDirect(ctx, req.SenderID, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	return s.SendMessage(ctx, SendRequest{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Attachments:    req.Attachments,
	})
}

// ensureDirect finds or creates the conversation between two users.
func (s *Service) ensureDirect(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	conv, err := s.store.FindDirectConversation(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &store.Conversation{
		ID:             uuid.New().String(),
		ParticipantIDs: []string{userA, userB},
		CreatedAt:      s.now(),
	}
	err = s.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with the other participant.
		return s.store.FindDirectConversation(ctx, userA, userB)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// MarkRead marks the conversation's messages from others as read for the
// user and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	n, err := s.store.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", err)
	}

	// Only the reader's unread count moved.
	if n > 0 {
		s.notifyUser(userID, conversationID)
	}
	return n, nil
}

// SubscribeMessages streams new messages of a conversation the user takes
// part in. The channel closes when ctx is cancelled or the broadcaster shuts down.
func (s *Service) SubscribeMessages(ctx context.Context, userID, conversationID string) (<-chan *Event, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	ch, _ := s.broadcaster.Subscribe(ctx, ConversationTopic(conversationID))
	return ch, nil
}

// SubscribeConversations streams change notices for the user's conversation list.
func (s *Service) SubscribeConversations(ctx context.Context, userID string) <-chan *Event {
	ch, _ := s.broadcaster.Subscribe(ctx, UserTopic(userID))
	return ch
}

// Ping reports whether the underlying store is usable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) notifyUser(userID, conversationID string) {
	s.broadcaster.Publish(UserTopic(userID), &Event{
		ID:             uuid.New().String(),
		Kind:           EventConversationChanged,
		ConversationID: conversationID,
	})
}

func hasParticipant(conv *store.Conversation, userID string) bool {
	for _, id := range conv.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
