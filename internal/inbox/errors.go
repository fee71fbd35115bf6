// ABOUTME: Typed errors for the sync layer: fetch, send and subscription failures
// ABOUTME: Each wraps its cause so errors.Is/As reach the backend error

package inbox

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a torn-down store or stream.
var ErrClosed = errors.New("inbox: closed")

// ErrNoConversation is returned when a stream operation needs an open
// conversation and none is selected.
var ErrNoConversation = errors.New("inbox: no conversation open")

// FetchError reports a failed read. The previous list is retained.
type FetchError struct {
	Op  string // "conversations", "messages" or "mark_read"
	ID  string // user or conversation ID the read was for
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed message submission. Nothing was added to the
// stream; the caller should prompt the user again.
type SendError struct {
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SubscriptionError reports a push channel that could not be attached or
// that dropped. The caller decides whether to subscribe again.
type SubscriptionError struct {
	Topic string // "conversations" or "messages"
	ID    string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s %s: %v", e.Topic, e.ID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
