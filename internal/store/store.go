// ABOUTME: Store interface and data types for inbox persistence
// ABOUTME: Defines Conversation, Message, Attachment and paging types

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

// ErrDuplicate is returned when an entity with the same ID or direct pair already exists
var ErrDuplicate = errors.New("already exists")

// ErrNotParticipant is returned when a user acts on a conversation they are not part of
var ErrNotParticipant = errors.New("not a participant")

// Conversation is a thread between a fixed set of participants
type Conversation struct {
	ID             string
	ParticipantIDs []string
	CreatedAt      time.Time
	LastActivity   time.Time
}

// ConversationSummary is a conversation as seen by one participant
type ConversationSummary struct {
	Conversation
	LastMessage string // body of the newest message, empty if none
	UnreadCount int    // messages from others not yet marked read
}

// Attachment is a file linked from a message
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Message is a single message within a conversation
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Attachments    []Attachment
	SentAt         time.Time
	Seq            int64 // assigned by the store on save
	Read           bool
}

// GetMessagesParams specifies a page of conversation history.
type GetMessagesParams struct {
	ConversationID string // Required
	Limit          int    // 1-500, defaults to 100
	Cursor         string // Opaque cursor from a previous result
}

// GetMessagesResult is one page of history, oldest first.
type GetMessagesResult struct {
	Messages   []Message
	NextCursor string // empty when there are no more messages
	HasMore    bool
}

// Store defines conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	// ListConversationsForUser returns every conversation of the user when
	// limit is 0.
	ListConversationsForUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, params GetMessagesParams) (*GetMessagesResult, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error)

	// Ping reports whether the store is usable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

const (
	defaultMessageLimit      = 100
	maxMessageLimit          = 500
	maxConversationLimit     = 1000
)

// normalizeMessageLimit applies the default and cap for message pages.
func normalizeMessageLimit(limit int) int {
	if limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}

// normalizeConversationLimit caps conversation listings. Zero or less means
// no limit and is returned as 0.
func normalizeConversationLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > maxConversationLimit {
		return maxConversationLimit
	}
	return limit
}

// uniqueParticipants drops empty and repeated IDs, keeping first-seen order.
func uniqueParticipants(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// directKey identifies the two-party conversation between a pair of users
// regardless of argument order. Returns "" unless there are exactly two
// distinct participants.
func directKey(participants []string) string {
	if len(participants) != 2 || participants[0] == participants[1] {
		return ""
	}
	pair := []string{participants[0], participants[1]}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
