// Package store provides persistent storage for the inbox gateway using SQLite.
//
// # Data Models
//
//   - Conversation: a thread between a fixed set of participants. Two-party
//     conversations carry a direct key so the same pair always maps to the
//     same conversation.
//   - Message: one timestamped unit of content, with optional attachments
//     (stored as JSON) and a read flag. Every message gets a store-assigned
//     sequence number that breaks timestamp ties in arrival order.
//   - ConversationSummary: a conversation as one participant sees it, with
//     the last message body and the participant's unread count.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (no cgo) with WAL mode and foreign keys:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests that need real SQL behavior, or
// NewMockStore() for an in-memory implementation.
//
// # Pagination
//
// GetMessages returns messages oldest first. Pages are addressed by an
// opaque cursor built from the last message's timestamp and sequence number.
//
// # Error Handling
//
//   - ErrNotFound: the conversation does not exist
//   - ErrInvalidCursor: a cursor could not be decoded
//   - ErrDuplicate: a conversation or message ID (or direct pair) is taken
//   - ErrNotParticipant: the sender is not part of the conversation
//
// All methods accept context.Context for cancellation support.
package store
