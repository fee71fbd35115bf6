// ABOUTME: ConversationStore keeps the signed-in user's conversation list in sync
// ABOUTME: Loads newest-activity-first and reloads in full on every change notification

package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ConversationStore holds the conversation list for one user.
//
// Every change notification from the backend triggers a full reload rather
// than an incremental patch, so the list is always exactly what the backend
// last returned.
type ConversationStore struct {
	backend Backend
	userID  string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	conversations []Conversation
	sub           Subscription
	loadSeq       uint64 // incremented when a load starts
	appliedSeq    uint64 // seq of the load whose result is held
	closed        bool
}

// NewConversationStore creates a store for userID. Pass nil logger for default.
func NewConversationStore(backend Backend, userID string, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationStore{
		backend: backend,
		userID:  userID,
		logger:  logger.With("component", "conversation-store", "user_id", userID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load fetches the user's conversations, most recent activity first.
// On failure it returns a *FetchError and the held list is unchanged.
func (s *ConversationStore) Load(ctx context.Context) ([]Conversation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	convs, err := s.backend.FetchConversations(ctx, s.userID)
	if err != nil {
		s.logger.Warn("failed to load conversations", "error", err)
		return nil, &FetchError{Op: "conversations", ID: s.userID, Err: err}
	}

	convs = cloneConversations(convs)
	sortConversations(convs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	// A slower, older load must not overwrite a newer result.
	if seq > s.appliedSeq {
		s.conversations = convs
		s.appliedSeq = seq
	}
	s.logger.Debug("loaded conversations", "count", len(convs))
	return cloneConversations(s.conversations), nil
}

// Conversations returns a copy of the held list.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConversations(s.conversations)
}

// Subscribe attaches to the backend's change notifications for the user.
// Each notification reloads the list and then calls onChange with the new
// list, or with the error if the reload failed (the held list is kept).
// A dropped channel is reported to onChange as a *SubscriptionError.
//
// Any previous subscription held by the store is closed first. The returned
// handle is also closed by Close.
func (s *ConversationStore) Subscribe(ctx context.Context, onChange func([]Conversation, error)) (Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	prev := s.sub
	s.sub = nil
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Debug("closing previous subscription", "error", err)
		}
	}

	sub, err := s.backend.SubscribeToConversations(ctx, s.userID, func() {
		s.reload(onChange)
	})
	if err != nil {
		return nil, &SubscriptionError{Topic: "conversations", ID: s.userID, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	go s.watch(sub, onChange)

	s.logger.Debug("subscribed to conversation changes")
	return sub, nil
}

// reload runs a full Load in response to a change notification.
func (s *ConversationStore) reload(onChange func([]Conversation, error)) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	convs, err := s.Load(s.ctx)
	if errors.Is(err, ErrClosed) {
		return
	}
	if onChange != nil {
		onChange(convs, err)
	}
}

// watch reports an unexpected end of the subscription.
func (s *ConversationStore) watch(sub Subscription, onChange func([]Conversation, error)) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}

	s.mu.Lock()
	current := s.sub == sub && !s.closed
	if current {
		s.sub = nil
	}
	s.mu.Unlock()

	if !current {
		return
	}
	s.logger.Warn("conversation subscription dropped", "error", err)
	if onChange != nil {
		onChange(nil, &SubscriptionError{Topic: "conversations", ID: s.userID, Err: err})
	}
}

// Close detaches the subscription and stops further reloads.
func (s *ConversationStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// sortConversations orders by last activity descending, then by ID so the
// order is deterministic when timestamps tie.
func sortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.ID < b.ID
	})
}
