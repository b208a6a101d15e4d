package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Message roles. Anything that is not assistant output is logged as "user".
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one row of the append-only conversation log.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationSummary describes one remote party's conversation for listing.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	LastActivity   time.Time `json:"last_activity"`
	LastMessage    string    `json:"last_message"`
}

// AppendMessage appends one message row. Rows are never updated or deleted.
// The row timestamp is assigned by the database.
func (s *Store) AppendMessage(conversationID, sessionID, role, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, session_id, role, content)
		VALUES (?, ?, ?, ?)
	`, conversationID, sessionID, role, content)
	if err != nil {
		return fmt.Errorf("append message for %q: %w", conversationID, err)
	}
	return nil
}

// ConversationMessages returns messages of one conversation newer than
// since, oldest first, capped at limit. Row timestamps are stored in UTC
// without an offset, so the bound time must be UTC too or the comparison
// skews by the host's zone offset.
func (s *Store) ConversationMessages(conversationID string, since time.Time, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, COALESCE(session_id, ''), role, content, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, conversationID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation %q: %w", conversationID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AllConversationMessages returns the full log of one conversation, oldest first.
func (s *Store) AllConversationMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, COALESCE(session_id, ''), role, content, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query conversation %q: %w", conversationID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the newest limit messages across all conversations,
// newest first.
func (s *Store) RecentMessages(limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, COALESCE(session_id, ''), role, content, timestamp
		FROM messages
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Conversations lists each conversation with its last activity and last
// message preview, most recent first.
func (s *Store) Conversations() ([]ConversationSummary, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id, MAX(timestamp) AS last_activity
		FROM messages
		GROUP BY conversation_id
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.LastActivity); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		err := s.db.QueryRow(`
			SELECT content FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC LIMIT 1
		`, out[i].ConversationID).Scan(&out[i].LastMessage)
		if err != nil {
			return nil, fmt.Errorf("last message for %q: %w", out[i].ConversationID, err)
		}
	}
	return out, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
