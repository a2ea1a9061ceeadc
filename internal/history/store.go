// Package history provides the durable chat message log in PostgreSQL. It
// is the REST leg of the client's dual-write: the client persists a message
// here and emits it over the relay independently, with no transactional tie
// between the two.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultPageSize bounds conversation queries that don't specify a limit.
const DefaultPageSize = 50

// MaxPageSize is the hard cap on a single conversation page.
const MaxPageSize = 200

// Message is one persisted chat message.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store manages the message log in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save persists a message and fills in its generated id and timestamp.
func (s *Store) Save(ctx context.Context, msg *Message) error {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return fmt.Errorf("history: missing participant id")
	}
	if err := ValidateBody(msg.Body); err != nil {
		return err
	}

	const query = `
		INSERT INTO messages (sender_id, receiver_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query, msg.SenderID, msg.ReceiverID, msg.Body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Conversation returns the most recent messages exchanged between two users
// in either direction, newest first. before, when non-zero, excludes
// messages with id >= before for cursor pagination.
func (s *Store) Conversation(ctx context.Context, userA, userB string, limit int, before int64) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	const query = `
		SELECT id, sender_id, receiver_id, body, is_read, created_at
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2)
		    OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::bigint = 0 OR id < $3)
		ORDER BY id DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, before, limit)
	if err != nil {
		return nil, fmt.Errorf("history: conversation: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return messages, nil
}

// MarkRead flags every unread message from senderID to readerID as read and
// returns how many rows changed.
func (s *Store) MarkRead(ctx context.Context, senderID, readerID string) (int64, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`

	res, err := s.db.ExecContext(ctx, query, senderID, readerID)
	if err != nil {
		return 0, fmt.Errorf("history: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: rows affected: %w", err)
	}
	return n, nil
}

// UnreadCount returns how many unread messages readerID has, across all
// conversations.
func (s *Store) UnreadCount(ctx context.Context, readerID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = $1 AND is_read = FALSE`

	var count int
	if err := s.db.QueryRowContext(ctx, query, readerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("history: unread count: %w", err)
	}
	return count, nil
}
