// ABOUTME: WebSocket-backed push subscriptions for the gateway client
// ABOUTME: One socket per subscription; closing the handle closes the socket

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/inbox"
)

// ErrSubscriptionDropped wraps the cause when a socket ends without the
// owner closing it.
var ErrSubscriptionDropped = errors.New("subscription dropped")

const closeTimeout = time.Second

// SubscribeToConversations calls onChange whenever the caller's
// conversation list changes on the gateway.
func (c *Client) SubscribeToConversations(ctx context.Context, userID string, onChange func()) (inbox.Subscription, error) {
	conn, err := c.dial(ctx, "/api/ws/conversations")
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("user_id", userID)
	return startSubscription(conn, logger, func(frame api.Frame) {
		if frame.Type == api.FrameConversationChanged {
			onChange()
		}
	}), nil
}

// SubscribeToMessages calls onMessage for each new message in the conversation.
func (c *Client) SubscribeToMessages(ctx context.Context, conversationID string, onMessage func(inbox.Message)) (inbox.Subscription, error) {
	conn, err := c.dial(ctx, conversationPath(conversationID)+"/ws")
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("conversation_id", conversationID)
	return startSubscription(conn, logger, func(frame api.Frame) {
		if frame.Type == api.FrameMessage && frame.Message != nil {
			onMessage(*frame.Message)
		}
	}), nil
}

// dial opens a socket. ctx bounds only the handshake.
func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, websocketURL(c.baseURL)+path, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, errorFromResponse(resp.StatusCode, resp.Body)
		}
		return nil, fmt.Errorf("dialing %s: %w", path, err)
	}
	return conn, nil
}

// websocketURL maps http(s) base URLs onto ws(s).
func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

// subscription reads frames off one socket until it is closed or drops.
type subscription struct {
	conn   *websocket.Conn
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	closing bool
	err     error
}

func startSubscription(conn *websocket.Conn, logger *slog.Logger, handle func(api.Frame)) *subscription {
	s := &subscription{conn: conn, logger: logger, done: make(chan struct{})}
	go s.readLoop(handle)
	return s
}

// readLoop also answers the gateway's pings, which gorilla handles while
// a read is in progress.
func (s *subscription) readLoop(handle func(api.Frame)) {
	defer close(s.done)
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closing {
				s.err = fmt.Errorf("%w: %w", ErrSubscriptionDropped, err)
			}
			s.mu.Unlock()
			s.logger.Debug("subscription ended", "error", err)
			return
		}

		var frame api.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("ignoring malformed frame", "error", err)
			continue
		}

		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			continue
		}
		handle(frame)
	}
}

// Close detaches the subscription. It does not wait for the read loop, so
// it is safe to call from inside a callback. Safe to call more than once.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout))
		_ = s.conn.Close()
	})
	return nil
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
