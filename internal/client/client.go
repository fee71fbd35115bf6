// ABOUTME: Gateway API client implementing inbox.Backend over HTTP and WebSocket
// ABOUTME: Authenticates with a bearer token; non-2xx responses become *APIError

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/inbox"
)

// defaultPageSize is the history page size used by FetchMessages.
const defaultPageSize = 200

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// Client talks to an inbox gateway as the user its token belongs to.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger
	pageSize int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPageSize sets how many messages FetchMessages requests per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New creates a client for the gateway at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		http:     &http.Client{},
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	return c
}

// FetchConversations lists the caller's conversations. The gateway
// identifies the caller by token; userID is only used for logging.
func (c *Client) FetchConversations(ctx context.Context, userID string) ([]inbox.Conversation, error) {
	var resp api.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched conversations", "user_id", userID, "count", len(resp.Conversations))
	return resp.Conversations, nil
}

// FetchMessages returns the whole history of a conversation, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]inbox.Message, error) {
	var all []inbox.Message
	cursor := ""
	for {
		page, err := c.History(ctx, conversationID, HistoryOptions{Limit: c.pageSize, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			all = append(all, m.Message)
		}
		if !page.HasMore {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// HistoryOptions selects one page of history.
type HistoryOptions struct {
	Limit      int
	Cursor     string
	RenderHTML bool
}

// History fetches one page of a conversation's messages.
func (c *Client) History(ctx context.Context, conversationID string, opts HistoryOptions) (*api.MessagesResponse, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.RenderHTML {
		q.Set("render", "html")
	}

	path := conversationPath(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page api.MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage posts a message. The gateway sends as the token's user, so
// params.SenderID must match it.
func (c *Client) SendMessage(ctx context.Context, params inbox.SendParams) error {
	_, err := c.Send(ctx, params.ConversationID, api.SendMessageRequest{
		Content:     params.Content,
		Attachments: params.Attachments,
	})
	return err
}

// Send posts a message and returns it as stored. Set req.IdempotencyKey to
// make a retry of the same request safe.
func (c *Client) Send(ctx context.Context, conversationID string, req api.SendMessageRequest) (*inbox.Message, error) {
	var msg api.Message
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID)+"/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg.Message, nil
}

// StartConversation sends a first message to another user, creating the
// conversation between them if it doesn't exist yet.
func (c *Client) StartConversation(ctx context.Context, req api.StartConversationRequest) (*inbox.Message, error) {
	var msg api.Message
	if err := c.do(ctx, http.MethodPost, "/api/conversations", req, &msg); err != nil {
		return nil, err
	}
	return &msg.Message, nil
}

// MarkMessagesAsRead marks other participants' messages read for the caller.
func (c *Client) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	var resp api.MarkReadResponse
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID)+"/read", nil, &resp); err != nil {
		return err
	}
	c.logger.Debug("marked read", "conversation_id", conversationID, "user_id", userID, "marked", resp.Marked)
	return nil
}

// Ready reports whether the gateway is up and its store reachable.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, resp.Body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts the gateway's JSON error, falling back to the
// raw body.
func errorFromResponse(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))

	var errResp api.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: status, Message: errResp.Error}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

func conversationPath(conversationID string) string {
	return "/api/conversations/" + url.PathEscape(conversationID)
}

var _ inbox.Backend = (*Client)(nil)
