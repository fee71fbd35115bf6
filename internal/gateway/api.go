// ABOUTME: HTTP API handlers for conversations, history, sends and read receipts
// ABOUTME: Maps service errors to JSON error responses and dedupes sends by idempotency key

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/auth"
	"github.com/2389/marketplace-inbox/internal/conversation"
	"github.com/2389/marketplace-inbox/internal/dedupe"
	"github.com/2389/marketplace-inbox/internal/inbox"
	"github.com/2389/marketplace-inbox/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// handleListConversations handles GET /api/conversations.
// Supports optional ?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())

	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	summaries, err := g.conversation.ListConversations(r.Context(), userID, limit)
	if err != nil {
		g.sendServiceError(w, "list conversations", err)
		return
	}

	resp := api.ConversationsResponse{Conversations: make([]inbox.Conversation, len(summaries))}
	for i, sum := range summaries {
		resp.Conversations[i] = conversation.ToInboxConversation(sum)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleStartConversation handles POST /api/conversations. It sends the
// first message to recipient_id, creating the conversation if needed.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())

	var req api.StartConversationRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.validAttachments(w, req.Attachments) {
		return
	}

	g.deliver(w, userID, "start:"+req.RecipientID, req.IdempotencyKey, func() (*store.Message, error) {
		return g.conversation.StartDirect(r.Context(), conversation.StartRequest{
			SenderID:    userID,
			RecipientID: req.RecipientID,
			Content:     req.Content,
			Attachments: conversation.ToStoreAttachments(req.Attachments),
		})
	})
}

// handleListMessages handles GET /api/conversations/{id}/messages.
// Supports ?limit=N, ?cursor= from a previous page and ?render=html.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())
	convID := r.PathValue("id")

	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	render := r.URL.Query().Get("render")
	if render != "" && render != "html" {
		g.sendJSONError(w, http.StatusBadRequest, "render must be html")
		return
	}

	page, err := g.conversation.History(r.Context(), userID, store.GetMessagesParams{
		ConversationID: convID,
		Limit:          limit,
		Cursor:         r.URL.Query().Get("cursor"),
	})
	if err != nil {
		g.sendServiceError(w, "list messages", err)
		return
	}

	resp := api.MessagesResponse{
		ConversationID: convID,
		Messages:       make([]api.Message, len(page.Messages)),
		NextCursor:     page.NextCursor,
		HasMore:        page.HasMore,
	}
	for i, m := range page.Messages {
		resp.Messages[i] = api.Message{Message: conversation.ToInboxMessage(m)}
		if render == "html" {
			resp.Messages[i].BodyHTML = g.renderBody(m.Body)
		}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())
	convID := r.PathValue("id")

	var req api.SendMessageRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.validAttachments(w, req.Attachments) {
		return
	}

	g.deliver(w, userID, "conversation:"+convID, req.IdempotencyKey, func() (*store.Message, error) {
		return g.conversation.SendMessage(r.Context(), conversation.SendRequest{
			ConversationID: convID,
			SenderID:       userID,
			Content:        req.Content,
			Attachments:    conversation.ToStoreAttachments(req.Attachments),
		})
	})
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUser(r.Context())

	n, err := g.conversation.MarkRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.sendServiceError(w, "mark read", err)
		return
	}
	g.sendJSON(w, http.StatusOK, api.MarkReadResponse{Marked: n})
}

// deliver runs send at most once per idempotency key. A retry after
// success replays the stored message with 200; a retry while the first
// attempt is still running gets 409. Without a key every call sends.
func (g *Gateway) deliver(w http.ResponseWriter, userID, scope, key string, send func() (*store.Message, error)) {
	if key == "" {
		msg, err := send()
		if err != nil {
			g.sendServiceError(w, "send message", err)
			return
		}
		g.sendJSON(w, http.StatusCreated, api.Message{Message: conversation.ToInboxMessage(*msg)})
		return
	}

	cacheKey := userID + "|" + scope + "|" + key
	cached, status := g.dedupe.Claim(cacheKey)
	switch status {
	case dedupe.Done:
		g.logger.Debug("replaying deduplicated send", "user_id", userID, "message_id", cached.ID)
		g.sendJSON(w, http.StatusOK, api.Message{Message: cached})
		return
	case dedupe.Pending:
		g.sendJSONError(w, http.StatusConflict, "a send with this idempotency_key is in progress")
		return
	}

	msg, err := send()
	if err != nil {
		g.dedupe.Release(cacheKey)
		g.sendServiceError(w, "send message", err)
		return
	}

	out := conversation.ToInboxMessage(*msg)
	g.dedupe.Complete(cacheKey, out)
	g.sendJSON(w, http.StatusCreated, api.Message{Message: out})
}

// parseLimit reads the optional positive ?limit parameter. Zero means the
// store's default; values above the store's cap are clamped there.
func (g *Gateway) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) validAttachments(w http.ResponseWriter, attachments []inbox.Attachment) bool {
	for _, a := range attachments {
		if a.URL == "" {
			g.sendJSONError(w, http.StatusBadRequest, "attachment url is required")
			return false
		}
	}
	return true
}

// sendServiceError maps conversation and store errors to HTTP statuses.
// Anything unrecognized is logged and reported as a 500.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrNotParticipant):
		g.sendJSONError(w, http.StatusForbidden, "not a participant in this conversation")
	case errors.Is(err, store.ErrInvalidCursor):
		g.sendJSONError(w, http.StatusBadRequest, "invalid cursor")
	case errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, "message needs content or attachments")
	case errors.Is(err, conversation.ErrInvalidRecipient):
		g.sendJSONError(w, http.StatusBadRequest, "recipient_id must name another user")
	default:
		g.logger.Error("request failed", "op", op, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError sends a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, api.ErrorResponse{Error: message})
}
