// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	directIndex   map[string]string        // keyed by direct key -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, in seq order
	messageIDs    map[string]bool
	seq           int64

	// PingErr, when set, is returned by Ping.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		messages:      make(map[string][]*Message),
		messageIDs:    make(map[string]bool),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	participants := uniqueParticipants(conv.ParticipantIDs)
	if len(participants) == 0 {
		return errors.New("conversation needs at least one participant")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv.ParticipantIDs = participants
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.CreatedAt
	}

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicate
	}
	key := directKey(participants)
	if key != "" {
		if _, ok := m.directIndex[key]; ok {
			return ErrDuplicate
		}
		m.directIndex[key] = conv.ID
	}

	// Make a copy to avoid external modification
	c := copyConversation(conv)
	m.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// FindDirectConversation retrieves the two-party conversation for a pair of users.
func (m *MockStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.directIndex[directKey([]string{userA, userB})]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// ListConversationsForUser returns the user's conversations, newest activity first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	limit = normalizeConversationLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ConversationSummary
	for _, c := range m.conversations {
		if !contains(c.ParticipantIDs, userID) {
			continue
		}
		sum := ConversationSummary{Conversation: *copyConversation(c)}
		if last := m.lastMessage(c.ID); last != nil {
			sum.LastMessage = last.Body
		}
		for _, msg := range m.messages[c.ID] {
			if msg.SenderID != userID && !msg.Read {
				sum.UnreadCount++
			}
		}
		result = append(result, sum)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastActivity.Equal(result[j].LastActivity) {
			return result[i].LastActivity.After(result[j].LastActivity)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// lastMessage returns the newest message by sent time, latest seq on ties.
// Caller must hold the lock.
func (m *MockStore) lastMessage(conversationID string) *Message {
	var last *Message
	for _, msg := range m.messages[conversationID] {
		if last == nil || !msg.SentAt.Before(last.SentAt) {
			last = msg
		}
	}
	return last
}

// IsParticipant reports whether userID belongs to the conversation.
func (m *MockStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return contains(c.ParticipantIDs, userID), nil
}

// SaveMessage stores a message and bumps the conversation's last activity.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if !contains(c.ParticipantIDs, msg.SenderID) {
		return ErrNotParticipant
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if m.messageIDs[msg.ID] {
		return ErrDuplicate
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	m.seq++
	msg.Seq = m.seq
	m.messageIDs[msg.ID] = true

	stored := copyMessage(msg)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)

	if msg.SentAt.After(c.LastActivity) {
		c.LastActivity = msg.SentAt
	}
	return nil
}

// GetMessages returns a page of history ordered by sent time then seq.
func (m *MockStore) GetMessages(ctx context.Context, params GetMessagesParams) (*GetMessagesResult, error) {
	limit := normalizeMessageLimit(params.Limit)

	var cursorTS time.Time
	var cursorSeq int64
	if params.Cursor != "" {
		var err error
		cursorTS, cursorSeq, err = decodeCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[params.ConversationID]; !ok {
		return nil, ErrNotFound
	}

	all := make([]Message, 0, len(m.messages[params.ConversationID]))
	for _, msg := range m.messages[params.ConversationID] {
		if params.Cursor != "" && !after(msg.SentAt, msg.Seq, cursorTS, cursorSeq) {
			continue
		}
		all = append(all, *copyMessage(msg))
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].SentAt.Equal(all[j].SentAt) {
			return all[i].SentAt.Before(all[j].SentAt)
		}
		return all[i].Seq < all[j].Seq
	})

	result := &GetMessagesResult{Messages: all}
	if len(all) > limit {
		result.Messages = all[:limit]
		result.HasMore = true
		last := result.Messages[limit-1]
		result.NextCursor = encodeCursor(last.SentAt, last.Seq)
	}
	return result, nil
}

// MarkConversationRead flags messages from other senders as read.
func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return 0, ErrNotFound
	}

	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.SenderID != userID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &out
}

func copyMessage(msg *Message) *Message {
	out := *msg
	if msg.Attachments != nil {
		out.Attachments = append([]Attachment(nil), msg.Attachments...)
	}
	return &out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
