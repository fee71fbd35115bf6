// ABOUTME: Conversation, Message and Attachment types plus the Backend contract
// ABOUTME: Backend is the only collaborator of the sync layer; Subscription is its owned push handle

package inbox

import (
	"context"
	"time"
)

// Attachment is a file linked from a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Message is one timestamped unit of content within a conversation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	SentAt         time.Time    `json:"sent_at"`
	Read           bool         `json:"read"`
}

// Conversation is a thread between a fixed set of participants, as seen by
// one of them.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantIDs []string  `json:"participant_ids"`
	LastMessage    string    `json:"last_message"`
	UnreadCount    int       `json:"unread_count"`
	LastActivity   time.Time `json:"last_activity"`
}

// SendParams carries an outgoing message.
type SendParams struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachments    []Attachment
}

// Subscription is a live push registration. Close detaches it; it is safe
// to call more than once. Done is closed once no more callbacks will run,
// either because Close was called or because the channel dropped, in which
// case Err reports why.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
	Err() error
}

// Backend is the remote messaging service the sync layer consumes.
type Backend interface {
	FetchConversations(ctx context.Context, userID string) ([]Conversation, error)
	SubscribeToConversations(ctx context.Context, userID string, onChange func()) (Subscription, error)
	FetchMessages(ctx context.Context, conversationID string) ([]Message, error)
	SendMessage(ctx context.Context, params SendParams) error
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error
	SubscribeToMessages(ctx context.Context, conversationID string, onMessage func(Message)) (Subscription, error)
}

// cloneMessages returns a copy of msgs whose attachment slices are also
// copied, so callers cannot mutate stream state.
func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}

func cloneConversations(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	for i, c := range convs {
		out[i] = c
		out[i].ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	}
	return out
}
