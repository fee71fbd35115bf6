// ABOUTME: In-memory Backend used by the inbox tests
// ABOUTME: Records calls and lets tests push messages and drop subscriptions by hand

package inbox

import (
	"context"
	"sync"
)

type fakeSub struct {
	topic string
	id    string

	mu         sync.Mutex
	closes     int
	delivering int
	closeLate  bool
	err        error
	done       chan struct{}
	doneOnce   sync.Once

	onMessage func(Message)
	onChange  func()
}

func newFakeSub(topic, id string) *fakeSub {
	return &fakeSub{topic: topic, id: id, done: make(chan struct{})}
}

// Close ends the subscription. Like the real implementations, Done does
// not fire until an in-progress delivery has returned.
func (f *fakeSub) Close() error {
	f.mu.Lock()
	f.closes++
	if f.delivering > 0 {
		f.closeLate = true
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSub) beginDelivery() {
	f.mu.Lock()
	f.delivering++
	f.mu.Unlock()
}

func (f *fakeSub) endDelivery() {
	f.mu.Lock()
	f.delivering--
	late := f.closeLate && f.delivering == 0
	f.mu.Unlock()
	if late {
		f.doneOnce.Do(func() { close(f.done) })
	}
}

func (f *fakeSub) Done() <-chan struct{} { return f.done }

func (f *fakeSub) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// drop ends the subscription as if the channel failed.
func (f *fakeSub) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeSub) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeBackend struct {
	mu sync.Mutex

	conversations []Conversation
	messages      map[string][]Message

	fetchConversationsErr error
	fetchMessagesErr      error
	sendErr               error
	markReadErr           error
	subscribeErr          error

	fetchConversationsCalls int
	fetchMessagesCalls      int
	sent                    []SendParams
	markReadCalls           []string

	convSubs []*fakeSub
	msgSubs  []*fakeSub
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string][]Message)}
}

func (f *fakeBackend) FetchConversations(ctx context.Context, userID string) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchConversationsCalls++
	if f.fetchConversationsErr != nil {
		return nil, f.fetchConversationsErr
	}
	return cloneConversations(f.conversations), nil
}

func (f *fakeBackend) SubscribeToConversations(ctx context.Context, userID string, onChange func()) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := newFakeSub("conversations", userID)
	sub.onChange = onChange
	f.convSubs = append(f.convSubs, sub)
	return sub, nil
}

func (f *fakeBackend) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchMessagesCalls++
	if f.fetchMessagesErr != nil {
		return nil, f.fetchMessagesErr
	}
	return cloneMessages(f.messages[conversationID]), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, params SendParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, params)
	return nil
}

func (f *fakeBackend) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	return f.markReadErr
}

func (f *fakeBackend) SubscribeToMessages(ctx context.Context, conversationID string, onMessage func(Message)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := newFakeSub("messages", conversationID)
	sub.onMessage = onMessage
	f.msgSubs = append(f.msgSubs, sub)
	return sub, nil
}

// push delivers msg to every live message subscription for its conversation.
func (f *fakeBackend) push(msg Message) {
	f.mu.Lock()
	var targets []*fakeSub
	for _, sub := range f.msgSubs {
		select {
		case <-sub.done:
			continue
		default:
		}
		if sub.id == msg.ConversationID {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.beginDelivery()
		sub.onMessage(msg)
		sub.endDelivery()
	}
}

// notifyConversations fires every live conversation subscription.
func (f *fakeBackend) notifyConversations() {
	f.mu.Lock()
	var targets []*fakeSub
	for _, sub := range f.convSubs {
		select {
		case <-sub.done:
			continue
		default:
		}
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.onChange()
	}
}

func (f *fakeBackend) markReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markReadCalls)
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeBackend) setConversations(convs []Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = convs
}

func (f *fakeBackend) setFetchConversationsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchConversationsErr = err
}

func (f *fakeBackend) messageSub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgSubs[i]
}

func (f *fakeBackend) messageSubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgSubs)
}
