// ABOUTME: Tests for the WebSocket push channels using gorilla's client dialer
// ABOUTME: Covers message and change frames, refusals, pings, client close and server shutdown

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/conversation"
)

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
}

// dial opens a socket as userID and fails the test on error.
func (e *testEnv) dial(t *testing.T, userID, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := e.dialErr(t, userID, path)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) dialErr(t *testing.T, userID, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token(t, userID))
	return websocket.DefaultDialer.Dial(e.wsURL(path), header)
}

func readFrame(t *testing.T, conn *websocket.Conn) api.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame api.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestSocket_PushesConversationMessages(t *testing.T) {
	env := newTestEnv(t)
	convID := env.start(t, "buyer", "seller", "hello")

	conn := env.dial(t, "seller", "/api/conversations/"+convID+"/ws")

	resp := env.do(t, "buyer", http.MethodPost, messagesPath(convID), api.SendMessageRequest{Content: "on my way"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[api.Message](t, resp)

	frame := readFrame(t, conn)
	assert.Equal(t, api.FrameMessage, frame.Type)
	assert.Equal(t, convID, frame.ConversationID)
	require.NotNil(t, frame.Message)
	assert.Equal(t, sent.ID, frame.Message.ID)
	assert.Equal(t, "on my way", frame.Message.Body)
	assert.Equal(t, "buyer", frame.Message.SenderID)
}

func TestSocket_PushesConversationChanges(t *testing.T) {
	env := newTestEnv(t)
	convID := env.start(t, "buyer", "seller", "hello")

	conn := env.dial(t, "seller", "/api/ws/conversations")

	resp := env.do(t, "seller", http.MethodPost, "/api/conversations/"+convID+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := readFrame(t, conn)
	assert.Equal(t, api.FrameConversationChanged, frame.Type)
	assert.Equal(t, convID, frame.ConversationID)
	assert.Nil(t, frame.Message)
}

func TestSocket_AccessTokenQuery(t *testing.T) {
	env := newTestEnv(t)

	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/api/ws/conversations?access_token="+env.token(t, "buyer")), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestSocket_Refusals(t *testing.T) {
	env := newTestEnv(t)
	convID := env.start(t, "buyer", "seller", "hello")

	_, resp, err := env.dialErr(t, "stranger", "/api/conversations/"+convID+"/ws")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = env.dialErr(t, "buyer", "/api/conversations/missing/ws")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL("/api/ws/conversations"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocket_ClientCloseUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	convID := env.start(t, "buyer", "seller", "hello")
	topic := conversation.ConversationTopic(convID)

	conn := env.dial(t, "seller", "/api/conversations/"+convID+"/ws")
	assert.Equal(t, 1, env.gw.broadcaster.SubscriberCount(topic))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return env.gw.broadcaster.SubscriberCount(topic) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_ShutdownSendsGoingAway(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "buyer", "/api/ws/conversations")

	env.gw.broadcaster.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestSocket_Pings(t *testing.T) {
	cfg := testConfig()
	cfg.Realtime.PingInterval = 30 * time.Millisecond
	cfg.Realtime.WriteTimeout = 20 * time.Millisecond
	env := newTestEnvWithConfig(t, cfg)

	conn := env.dial(t, "buyer", "/api/ws/conversations")

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	assert.Eventually(t, func() bool { return pings.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
}
