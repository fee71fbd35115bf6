// ABOUTME: In-memory fan-out event broadcaster for real-time inbox updates
// ABOUTME: Publishes persisted messages and change notices to all subscribers of a topic

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventBroadcaster provides in-memory pub/sub for inbox events.
// Subscribers register for a topic and receive events as they are
// published. A subscriber that falls behind loses events rather than
// blocking the publisher.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // topic -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given topic.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled. Subscribing to a closed broadcaster returns an already
// closed channel.
func (b *EventBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(topic string, event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; none of them block.
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropped event for slow subscriber",
				"topic", topic,
				"event_id", event.ID)
		}
	}
}

// SubscriberCount returns the number of live subscribers on a topic.
func (b *EventBroadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}
