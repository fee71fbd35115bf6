// Package inbox keeps a client's view of conversations and messages in sync
// with a messaging backend.
//
// # Overview
//
// Two components hold state for one signed-in user:
//
//   - ConversationStore: the user's conversation list, ordered by last
//     activity (newest first), reloaded in full on every change notification.
//   - MessageStream: the ordered message list of the one conversation the
//     user has open, kept live through a push subscription.
//
// Both talk to a Backend, which is the only collaborator: persistence,
// transport and push delivery all live behind it. The gateway client
// (internal/client) and the in-process adapter (conversation.LocalBackend)
// are the two implementations.
//
// # Identity
//
// The current user is passed to each constructor. Nothing in this package
// reads a global session.
//
// # Subscriptions
//
// Backend subscriptions are owned handles. Switching the open conversation
// closes the previous handle before the next one is attached, and every
// callback is checked against the active generation so a late delivery for
// the old conversation never touches the new list.
//
// # Ordering
//
// History is sorted oldest first on load. Pushed messages are appended to
// the tail as delivered; the stream does not re-sort or deduplicate them.
//
// # Errors
//
// Failures surface as *FetchError, *SendError or *SubscriptionError. The
// package never retries; the last good list is kept on every failure.
package inbox
