// ABOUTME: JSON request, response and push-frame types shared by the gateway and its client
// ABOUTME: Messages and conversations travel as the inbox sync layer's own types

package api

import (
	"github.com/2389/marketplace-inbox/internal/inbox"
)

// Push frame types sent over the WebSocket channels.
const (
	FrameMessage             = "message"
	FrameConversationChanged = "conversation_changed"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversationsResponse is the JSON response for GET /api/conversations.
type ConversationsResponse struct {
	Conversations []inbox.Conversation `json:"conversations"`
}

// StartConversationRequest is the JSON request body for POST /api/conversations.
type StartConversationRequest struct {
	RecipientID    string             `json:"recipient_id"`
	Content        string             `json:"content"`
	Attachments    []inbox.Attachment `json:"attachments,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content        string             `json:"content"`
	Attachments    []inbox.Attachment `json:"attachments,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// Message is a message as served over HTTP. BodyHTML is only filled when
// the caller asked for rendered bodies.
type Message struct {
	inbox.Message
	BodyHTML string `json:"body_html,omitempty"`
}

// MessagesResponse is one page of history, oldest first.
type MessagesResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	NextCursor     string    `json:"next_cursor,omitempty"`
	HasMore        bool      `json:"has_more"`
}

// MarkReadResponse is the JSON response for POST /api/conversations/{id}/read.
type MarkReadResponse struct {
	Marked int `json:"marked"`
}

// Frame is one push over a WebSocket channel. Message is set for
// FrameMessage; ConversationID is always set.
type Frame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        *inbox.Message `json:"message,omitempty"`
}
