// ABOUTME: WebSocket push channels for conversation messages and list changes
// ABOUTME: Each socket carries one subscription; a write loop sends frames and pings

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/auth"
	"github.com/2389/marketplace-inbox/internal/conversation"
)

const (
	sendBufferSize = 128

	// Clients never send data frames; this only bounds control frames.
	maxInboundBytes = 512
)

var (
	errSocketClosed = errors.New("socket closed")
	errSlowConsumer = errors.New("socket send buffer full")
)

// socket wraps a websocket and serializes outbound writes through a
// buffered channel drained by the write loop.
type socket struct {
	id     string
	userID string

	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	once         sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func (g *Gateway) newSocket(ws *websocket.Conn, userID string) *socket {
	id := uuid.NewString()
	return &socket{
		id:           id,
		userID:       userID,
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		closed:       make(chan struct{}),
		pingInterval: g.config.Realtime.PingInterval,
		writeTimeout: g.config.Realtime.WriteTimeout,
		logger:       g.logger.With("socket_id", id, "user_id", userID),
	}
}

// start launches the write and read loops. Call exactly once.
func (s *socket) start() {
	go s.writeLoop()
	go s.readLoop()
}

// sendFrame enqueues a frame. A client too slow to drain its buffer is
// disconnected rather than allowed to hold memory.
func (s *socket) sendFrame(frame api.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return errSocketClosed
	case s.send <- payload:
		return nil
	default:
		s.close(websocket.CloseTryAgainLater, "send buffer full")
		return errSlowConsumer
	}
}

// close sends a close frame and tears the connection down. Only the
// first call has any effect.
func (s *socket) close(code int, reason string) {
	s.once.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(s.writeTimeout)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.ws.Close()
	})
}

func (s *socket) done() <-chan struct{} {
	return s.closed
}

func (s *socket) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("socket write failed", "error", err)
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("socket ping failed", "error", err)
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (s *socket) write(messageType int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, payload)
}

// readLoop processes control frames and notices the client going away.
// A client that stops answering pings is dropped after one missed interval.
func (s *socket) readLoop() {
	pongWait := s.pingInterval + s.writeTimeout

	s.ws.SetReadLimit(maxInboundBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("socket read failed", "error", err)
			}
			s.close(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// handleMessageSocket handles GET /api/conversations/{id}/ws, pushing each
// new message of the conversation as a "message" frame.
func (g *Gateway) handleMessageSocket(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())
	convID := r.PathValue("id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Participation is checked before the upgrade so refusals are plain HTTP.
	events, err := g.conversation.SubscribeMessages(ctx, userID, convID)
	if err != nil {
		g.sendServiceError(w, "subscribe messages", err)
		return
	}

	g.serveSocket(w, r, userID, events, func(ev *conversation.Event) (api.Frame, bool) {
		if ev.Kind != conversation.EventMessage || ev.Message == nil {
			return api.Frame{}, false
		}
		msg := conversation.ToInboxMessage(*ev.Message)
		return api.Frame{Type: api.FrameMessage, ConversationID: ev.ConversationID, Message: &msg}, true
	})
}

// handleConversationSocket handles GET /api/ws/conversations, pushing a
// "conversation_changed" frame whenever the caller's list changes.
func (g *Gateway) handleConversationSocket(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := g.conversation.SubscribeConversations(ctx, userID)

	g.serveSocket(w, r, userID, events, func(ev *conversation.Event) (api.Frame, bool) {
		return api.Frame{Type: api.FrameConversationChanged, ConversationID: ev.ConversationID}, true
	})
}

// serveSocket upgrades the request and forwards events as frames until
// either side goes away. It blocks for the life of the socket.
func (g *Gateway) serveSocket(w http.ResponseWriter, r *http.Request, userID string, events <-chan *conversation.Event, toFrame func(*conversation.Event) (api.Frame, bool)) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sock := g.newSocket(ws, userID)
	sock.start()
	defer sock.close(websocket.CloseNormalClosure, "")

	sock.logger.Debug("socket opened", "path", r.URL.Path)
	defer sock.logger.Debug("socket closed")

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				sock.close(websocket.CloseGoingAway, "server shutting down")
				return
			}
			frame, ok := toFrame(ev)
			if !ok {
				continue
			}
			if err := sock.sendFrame(frame); err != nil {
				sock.logger.Debug("dropping socket", "error", err)
				return
			}
		case <-sock.done():
			return
		}
	}
}
