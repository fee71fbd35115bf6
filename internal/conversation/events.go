// ABOUTME: Events published by the conversation service and their topic names
// ABOUTME: Messages go to conversation topics, change notices go to user topics

package conversation

import "github.com/2389/marketplace-inbox/internal/store"

// EventKind distinguishes what an Event carries.
type EventKind string

const (
	// EventMessage carries a newly persisted message.
	EventMessage EventKind = "message"
	// EventConversationChanged tells a user their conversation list is stale.
	EventConversationChanged EventKind = "conversation_changed"
)

// Event is a single fan-out notification.
type Event struct {
	ID             string
	Kind           EventKind
	ConversationID string
	Message        *store.Message // set for EventMessage
}

// ConversationTopic is the topic new messages of a conversation are published on.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// UserTopic is the topic a user's conversation-list changes are published on.
func UserTopic(userID string) string {
	return "user:" + userID
}
