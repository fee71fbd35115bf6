// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Pragmas are per connection and :memory: databases are per connection,
	// so keep exactly one.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			direct_key    TEXT UNIQUE,
			created_at    TEXT NOT NULL,
			last_activity TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_activity
			ON conversations(last_activity DESC);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         TEXT NOT NULL,
			position        INTEGER NOT NULL,
			joined_at       TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			id               TEXT NOT NULL UNIQUE,
			conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id        TEXT NOT NULL,
			body             TEXT NOT NULL,
			attachments_json TEXT,
			sent_at          TEXT NOT NULL,
			is_read          INTEGER NOT NULL DEFAULT 0,
			read_at          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
			ON messages(conversation_id, sent_at, seq);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, is_read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "read_at",
			apply:  `ALTER TABLE messages ADD COLUMN read_at TEXT`,
		},
		{
			table:  "messages",
			column: "attachments_json",
			apply:  `ALTER TABLE messages ADD COLUMN attachments_json TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a conversation and its participants.
// Missing ID and timestamps are filled in. A second two-party conversation
// for the same pair returns ErrDuplicate.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	participants := uniqueParticipants(conv.ParticipantIDs)
	if len(participants) == 0 {
		return errors.New("conversation needs at least one participant")
	}
	conv.ParticipantIDs = participants
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.CreatedAt
	}

	var key sql.NullString
	if k := directKey(participants); k != "" {
		key = sql.NullString{String: k, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, direct_key, created_at, last_activity)
		VALUES (?, ?, ?, ?)
	`, conv.ID, key, formatTime(conv.CreatedAt), formatTime(conv.LastActivity))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, userID := range participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, position, joined_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, userID, i, formatTime(conv.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", len(participants))
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.scanConversation(ctx, `
		SELECT id, created_at, last_activity FROM conversations WHERE id = ?
	`, id)
}

// FindDirectConversation returns the two-party conversation between userA
// and userB, in either order. Returns ErrNotFound if there is none.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	key := directKey([]string{userA, userB})
	if key == "" {
		return nil, ErrNotFound
	}
	return s.scanConversation(ctx, `
		SELECT id, created_at, last_activity FROM conversations WHERE direct_key = ?
	`, key)
}

func (s *SQLiteStore) scanConversation(ctx context.Context, query string, arg string) (*Conversation, error) {
	var conv Conversation
	var createdAt, lastActivity string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(&conv.ID, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}

	if conv.ParticipantIDs, err = s.participants(ctx, conv.ID); err != nil {
		return nil, err
	}
	return &conv, nil
}

// participants returns the member IDs of a conversation in join order.
func (s *SQLiteStore) participants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY position
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListConversationsForUser returns the user's conversations, most recently
// active first, each with its last message body and the user's unread count.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	limit = normalizeConversationLimit(limit)
	if limit == 0 {
		limit = -1 // SQLite: no limit
	}

	query := `
		SELECT c.id, c.created_at, c.last_activity,
			COALESCE((
				SELECT m.body FROM messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.sent_at DESC, m.seq DESC
				LIMIT 1
			), ''),
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.is_read = 0
			)
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_activity DESC, c.id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var summaries []ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var createdAt, lastActivity string
		if err := rows.Scan(&sum.ID, &createdAt, &lastActivity, &sum.LastMessage, &sum.UnreadCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sum.LastActivity, err = parseTime(lastActivity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing last_activity: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	// Release the only connection before the per-conversation queries.
	rows.Close()

	for i := range summaries {
		ids, err := s.participants(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		summaries[i].ParticipantIDs = ids
	}

	return summaries, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking participant: %w", err)
	}
	return true, nil
}

// SaveMessage appends a message to its conversation and bumps the
// conversation's last activity. The store assigns Seq; a missing ID or
// SentAt is filled in.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	var attachments sql.NullString
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("marshaling attachments: %w", err)
		}
		attachments = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var lastActivity string
	err = tx.QueryRowContext(ctx, `SELECT last_activity FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}

	var member int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`, msg.ConversationID, msg.SenderID).Scan(&member)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotParticipant
	}
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, attachments_json, sent_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, attachments, formatTime(msg.SentAt), msg.Read)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}

	// The fixed-width layout makes string comparison time comparison.
	if sentAt := formatTime(msg.SentAt); sentAt > lastActivity {
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_activity = ? WHERE id = ?`, sentAt, msg.ConversationID); err != nil {
			return fmt.Errorf("updating last activity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "seq", seq)
	return nil
}

// GetMessages returns a page of a conversation's history, oldest first.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetMessages(ctx context.Context, params GetMessagesParams) (*GetMessagesResult, error) {
	limit := normalizeMessageLimit(params.Limit)

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, params.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	query := `
		SELECT seq, id, conversation_id, sender_id, body, attachments_json, sent_at, is_read
		FROM messages
		WHERE conversation_id = ?
	`
	args := []any{params.ConversationID}

	if params.Cursor != "" {
		ts, seq, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (sent_at > ? OR (sent_at = ? AND seq > ?))`
		cursorTS := formatTime(ts)
		args = append(args, cursorTS, cursorTS, seq)
	}

	// One extra row tells us whether another page exists.
	query += ` ORDER BY sent_at ASC, seq ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	result := &GetMessagesResult{Messages: messages}
	if len(messages) > limit {
		result.Messages = messages[:limit]
		result.HasMore = true
		last := result.Messages[limit-1]
		result.NextCursor = encodeCursor(last.SentAt, last.Seq)
	}
	return result, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var msg Message
	var attachments sql.NullString
	var sentAt string

	if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &attachments, &sentAt, &msg.Read); err != nil {
		return Message{}, fmt.Errorf("scanning message: %w", err)
	}

	t, err := parseTime(sentAt)
	if err != nil {
		return Message{}, fmt.Errorf("parsing sent_at: %w", err)
	}
	msg.SentAt = t

	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return Message{}, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	return msg, nil
}

// MarkConversationRead marks every unread message in the conversation that
// was not sent by userID as read, returning how many changed.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying conversation: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0
	`, formatTime(time.Now()), conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}

	if n > 0 {
		s.logger.Debug("marked messages read", "conversation_id", conversationID, "user_id", userID, "count", n)
	}
	return int(n), nil
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
