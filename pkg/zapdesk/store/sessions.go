package store

import (
	"fmt"
	"time"
)

// Session is a registered WhatsApp session row. Live connection status is
// tracked in memory by the session manager, not here.
type Session struct {
	ID          string    `json:"session_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertSession registers a session if it is not already registered.
func (s *Store) InsertSession(id, description string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO sessions (session_id, description) VALUES (?, ?)",
		id, description)
	if err != nil {
		return fmt.Errorf("insert session %q: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session registry row. Deleting an unregistered
// session is a no-op.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// ListSessions returns every registered session.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(
		"SELECT session_id, COALESCE(description, ''), created_at FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Description, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
