// Package conversation provides the server-side conversation service.
//
// # Overview
//
// The conversation package sits between the HTTP/WebSocket handlers and the
// store. It owns the rules the sync layer relies on: who may read or write a
// conversation, how content is normalized, and which events fire when state
// changes.
//
// # Service
//
//	svc := conversation.NewService(store, broadcaster, logger)
//
// Key operations:
//
//   - ListConversations(ctx, userID, limit): summaries, most recent first
//   - History / AllMessages: paged or complete history, oldest first
//   - SendMessage(ctx, req): persist, then publish
//   - StartDirect(ctx, req): first message between two users; creates the
//     conversation on demand
//   - MarkRead(ctx, conversationID, userID): flag others' messages as read
//   - SubscribeMessages / SubscribeConversations: live event channels
//
// # Event Broadcasting
//
// Events are published on two kinds of topic:
//
//   - conversation:<id> carries EventMessage for every persisted message
//   - user:<id> carries EventConversationChanged whenever that user's
//     conversation list (ordering, preview or unread count) changes
//
// Publishing never blocks; a subscriber whose buffer is full misses events.
//
// # Local Backend
//
// LocalBackend implements inbox.Backend directly on top of a Service, so the
// sync layer can run in the same process as the gateway (tests, embedded use).
package conversation
