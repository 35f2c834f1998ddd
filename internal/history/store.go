package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store manages the message history in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Message is one persisted chat message row.
type Message struct {
	MessageID   string
	SessionID   string
	SenderID    string
	SenderType  string
	Content     string
	MessageType string
	SentAt      time.Time
}

// NewStore creates a history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists one delivered message. Replays of the same message id for
// the same session are ignored, which keeps at-least-once delivery from the
// feed idempotent at the store.
func (s *Store) Insert(ctx context.Context, msg *Message) error {
	const query = `
		INSERT INTO messages (message_id, session_id, sender_id, sender_type, content, message_type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.MessageID,
		msg.SessionID,
		msg.SenderID,
		msg.SenderType,
		msg.Content,
		msg.MessageType,
		msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// MessagesSince returns the messages for a session sent after the given
// time, oldest first, capped at limit. This backs the CRUD layer's polling
// fallback: clients without a live connection re-fetch everything newer
// than the last message they saw.
func (s *Store) MessagesSince(ctx context.Context, sessionID string, since time.Time, limit int) ([]Message, error) {
	const query = `
		SELECT message_id, session_id, sender_id, sender_type, content, message_type, sent_at
		FROM messages
		WHERE session_id = $1 AND sent_at > $2
		ORDER BY sent_at ASC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, sessionID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("history: messages since: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.SenderID, &m.SenderType,
			&m.Content, &m.MessageType, &m.SentAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return messages, nil
}

// CountForSession returns how many messages a session has accumulated.
func (s *Store) CountForSession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE session_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}
