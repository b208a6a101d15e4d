// Package store implements the ZapDesk persisted store on SQLite: the
// settings key/value table, the session registry, the append-only message
// log, knowledge items with embeddings, categories, and admin users.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database connection.
type Store struct {
	db *sql.DB

	// budgetMu serializes the daily token budget check-and-reserve so
	// concurrent sessions sharing one budget cannot both pass the gate.
	budgetMu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT UNIQUE NOT NULL,
	password      TEXT NOT NULL,
	email         TEXT,
	display_name  TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT UNIQUE NOT NULL,
	description TEXT
);

CREATE TABLE IF NOT EXISTS knowledge (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER,
	content     TEXT NOT NULL,
	embedding   TEXT,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY(category_id) REFERENCES categories(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	session_id      TEXT,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	timestamp       DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	description TEXT,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens or creates the ZapDesk database at path, applies the schema,
// and seeds default rows (admin user, settings, categories).
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema (idempotent via IF NOT EXISTS).
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// defaultSettings are seeded once; existing values are never overwritten.
func defaultSettings(today string) map[string]string {
	return map[string]string{
		"bot_enabled":       "true",
		"schedule_enabled":  "false",
		"schedule_start":    "09:00",
		"schedule_end":      "17:00",
		"openai_model":      "gpt-3.5-turbo",
		"system_prompt":     "You are a helpful assistant.",
		"temperature":       "0.7",
		"token_limit_daily": "10000",
		"tokens_used_today": "0",
		"last_token_reset":  today,
	}
}

var defaultCategories = []string{
	"Personal Information",
	"Contact Information",
	"Business Information",
	"Services Information",
}

// seedDefaults creates the default admin user, settings, and categories.
func (s *Store) seedDefaults() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash default password: %w", err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO users (username, password) VALUES (?, ?)", "admin", string(hash),
		); err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
	}

	today := time.Now().Format(dateLayout)
	for key, value := range defaultSettings(today) {
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)", key, value,
		); err != nil {
			return fmt.Errorf("seed setting %q: %w", key, err)
		}
	}

	for _, name := range defaultCategories {
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO categories (name, description) VALUES (?, ?)",
			name, name+" category",
		); err != nil {
			return fmt.Errorf("seed category %q: %w", name, err)
		}
	}

	return nil
}
