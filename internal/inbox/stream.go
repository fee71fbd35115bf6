// ABOUTME: MessageStream keeps the open conversation's messages live and marks them read
// ABOUTME: Implements the Idle/Loading/Ready lifecycle with generation-gated push callbacks

package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// StreamState is the lifecycle state of a MessageStream.
type StreamState int

const (
	StateIdle StreamState = iota
	StateLoading
	StateReady
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// MarkReadError reports a failed read-marking call. The message list is
// not affected.
type MarkReadError struct {
	ConversationID string
	Err            error
}

func (e *MarkReadError) Error() string {
	return fmt.Sprintf("mark read %s: %v", e.ConversationID, e.Err)
}

func (e *MarkReadError) Unwrap() error { return e.Err }

// MessageStream holds the messages of the one conversation a user has open.
//
// Each Open bumps a generation counter. Push callbacks and read-marking
// completions carry the generation they were started under and are dropped
// when it no longer matches, so nothing from a previous conversation can
// reach the current list.
type MessageStream struct {
	backend Backend
	userID  string
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup // mark-read calls and subscription watchers

	mu             sync.Mutex
	state          StreamState
	conversationID string
	generation     uint64
	messages       []Message
	sub            Subscription
	onChange       func([]Message)
	onError        func(error)
}

// NewMessageStream creates an idle stream for userID. Pass nil logger for default.
func NewMessageStream(backend Backend, userID string, logger *slog.Logger) *MessageStream {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageStream{
		backend: backend,
		userID:  userID,
		logger:  logger.With("component", "message-stream", "user_id", userID),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
}

// SetOnChange registers a callback that receives a snapshot of the list
// after every mutation. It runs outside the stream's lock.
func (s *MessageStream) SetOnChange(fn func([]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SetOnError registers a callback for failures that happen off the caller's
// goroutine: read-marking (*MarkReadError) and dropped subscriptions
// (*SubscriptionError).
func (s *MessageStream) SetOnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// State returns the current lifecycle state.
func (s *MessageStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the open conversation, or "" when none is open.
func (s *MessageStream) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns a copy of the current list.
func (s *MessageStream) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// Open switches the stream to conversationID. The previous subscription is
// closed before anything else happens and the old list is discarded. The
// history is then loaded (which issues one read-marking call) and a push
// subscription is attached.
//
// A load failure returns a *FetchError and leaves the stream idle with an
// empty list. A subscription failure returns a *SubscriptionError with the
// history already in place; Resubscribe can be used to try again.
func (s *MessageStream) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrNoConversation
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.sub
	s.sub = nil
	s.generation++
	gen := s.generation
	s.conversationID = conversationID
	s.messages = nil
	s.state = StateIdle
	s.mu.Unlock()

	// Detach synchronously so the old channel cannot deliver into the new list.
	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Debug("closing previous message subscription", "error", err)
		}
	}
	s.notify()

	if err := s.load(ctx, gen, conversationID, true); err != nil {
		return err
	}
	return s.attach(ctx, gen, conversationID)
}

// Load reloads the history of the open conversation. On success the list is
// replaced and one read-marking call is issued. On failure a *FetchError is
// returned and the list keeps its last good contents.
func (s *MessageStream) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	gen := s.generation
	id := s.conversationID
	s.mu.Unlock()

	if id == "" {
		return ErrNoConversation
	}
	return s.load(ctx, gen, id, false)
}

// load fetches history for conversationID under generation gen. When fresh
// is true the stream is switching conversations and a failure leaves it
// idle; otherwise a failure restores the state that preceded the reload.
func (s *MessageStream) load(ctx context.Context, gen uint64, conversationID string, fresh bool) error {
	s.mu.Lock()
	if s.generation != gen || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	prevState := s.state
	s.state = StateLoading
	s.mu.Unlock()

	msgs, err := s.backend.FetchMessages(ctx, conversationID)

	s.mu.Lock()
	if s.generation != gen || s.state == StateClosed {
		// Superseded by a newer Open or torn down while fetching.
		s.mu.Unlock()
		s.logger.Debug("discarding stale history", "conversation_id", conversationID)
		return nil
	}
	if err != nil {
		if fresh {
			s.state = StateIdle
		} else {
			s.state = prevState
		}
		s.mu.Unlock()
		s.logger.Warn("failed to load messages", "conversation_id", conversationID, "error", err)
		return &FetchError{Op: "messages", ID: conversationID, Err: err}
	}

	msgs = cloneMessages(msgs)
	sortMessages(msgs)
	s.messages = msgs
	s.state = StateReady
	s.startMarkReadLocked(gen, conversationID)
	s.mu.Unlock()

	s.logger.Debug("loaded messages", "conversation_id", conversationID, "count", len(msgs))
	s.notify()
	return nil
}

// Resubscribe attaches a push subscription for the open conversation if none
// is held, typically after a *SubscriptionError.
func (s *MessageStream) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conversationID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	id := s.conversationID
	s.mu.Unlock()

	return s.attach(ctx, gen, id)
}

// attach subscribes to pushes for conversationID under generation gen.
func (s *MessageStream) attach(ctx context.Context, gen uint64, conversationID string) error {
	sub, err := s.backend.SubscribeToMessages(ctx, conversationID, func(msg Message) {
		s.deliver(gen, conversationID, msg)
	})
	if err != nil {
		s.logger.Warn("failed to subscribe to messages", "conversation_id", conversationID, "error", err)
		return &SubscriptionError{Topic: "messages", ID: conversationID, Err: err}
	}

	s.mu.Lock()
	if s.generation != gen || s.state == StateClosed || s.sub != nil {
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.pending.Add(1)
	s.mu.Unlock()

	go s.watch(sub, conversationID)

	s.logger.Debug("subscribed to messages", "conversation_id", conversationID)
	return nil
}

// deliver appends a pushed message to the tail of the list. Messages are
// not re-sorted or deduplicated; the channel is trusted to deliver in order.
func (s *MessageStream) deliver(gen uint64, conversationID string, msg Message) {
	s.mu.Lock()
	if s.generation != gen || s.state == StateClosed || s.conversationID != conversationID {
		s.mu.Unlock()
		s.logger.Debug("dropping message for inactive conversation",
			"conversation_id", conversationID,
			"message_id", msg.ID)
		return
	}
	if msg.ConversationID != "" && msg.ConversationID != conversationID {
		s.mu.Unlock()
		s.logger.Debug("dropping message tagged for another conversation",
			"conversation_id", conversationID,
			"message_conversation_id", msg.ConversationID,
			"message_id", msg.ID)
		return
	}

	msg.Attachments = append([]Attachment(nil), msg.Attachments...)
	s.messages = append(s.messages, msg)
	if msg.SenderID != s.userID {
		s.startMarkReadLocked(gen, conversationID)
	}
	s.mu.Unlock()

	s.notify()
}

// startMarkReadLocked issues a read-marking call in the background.
// Must be called with mu held and the stream not closed.
//
// The goroutine leaves pending before it runs a callback, so a callback
// may call Close without waiting on itself.
func (s *MessageStream) startMarkReadLocked(gen uint64, conversationID string) {
	s.pending.Add(1)
	go func() {
		err := s.backend.MarkMessagesAsRead(s.ctx, conversationID, s.userID)
		if err != nil {
			s.pending.Done()
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to mark messages read", "conversation_id", conversationID, "error", err)
			s.report(&MarkReadError{ConversationID: conversationID, Err: err})
			return
		}

		s.mu.Lock()
		changed := false
		if s.generation == gen && s.state != StateClosed {
			for i := range s.messages {
				if s.messages[i].SenderID != s.userID && !s.messages[i].Read {
					s.messages[i].Read = true
					changed = true
				}
			}
		}
		s.mu.Unlock()
		s.pending.Done()

		if changed {
			s.notify()
		}
	}()
}

// watch reports an unexpected end of a message subscription. It also
// returns when the stream is closed: Close may run on the subscription's
// own delivery goroutine, in which case Done cannot fire until Close returns.
func (s *MessageStream) watch(sub Subscription, conversationID string) {
	select {
	case <-sub.Done():
	case <-s.ctx.Done():
		s.pending.Done()
		return
	}

	err := sub.Err()
	s.mu.Lock()
	current := err != nil && s.sub == sub && s.state != StateClosed
	if current {
		s.sub = nil
	}
	s.mu.Unlock()
	s.pending.Done()

	if current {
		s.logger.Warn("message subscription dropped", "conversation_id", conversationID, "error", err)
		s.report(&SubscriptionError{Topic: "messages", ID: conversationID, Err: err})
	}
}

// Send submits content to the open conversation. Content that is empty
// after trimming whitespace is ignored without contacting the backend. The
// message is not appended locally; the confirmed copy arrives through the
// push subscription.
func (s *MessageStream) Send(ctx context.Context, content string, attachments ...Attachment) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	id := s.conversationID
	s.mu.Unlock()

	if id == "" {
		return ErrNoConversation
	}

	err := s.backend.SendMessage(ctx, SendParams{
		ConversationID: id,
		SenderID:       s.userID,
		Content:        content,
		Attachments:    attachments,
	})
	if err != nil {
		s.logger.Warn("failed to send message", "conversation_id", id, "error", err)
		return &SendError{ConversationID: id, Err: err}
	}
	return nil
}

// Close tears the stream down: the subscription is detached, in-flight
// read-marking is cancelled and waited for, and the list is released. It is
// safe to call from the OnChange and OnError callbacks.
func (s *MessageStream) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	sub := s.sub
	s.sub = nil
	s.messages = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.pending.Wait()
	return err
}

// notify passes a snapshot to the change callback.
func (s *MessageStream) notify() {
	s.mu.Lock()
	fn := s.onChange
	closed := s.state == StateClosed
	snapshot := cloneMessages(s.messages)
	s.mu.Unlock()

	if fn != nil && !closed {
		fn(snapshot)
	}
}

func (s *MessageStream) report(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// sortMessages orders oldest first. The sort is stable so messages with the
// same timestamp keep the order the backend returned them in.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}
