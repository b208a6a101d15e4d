package store

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// User is an admin dashboard account.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	PasswordHash string `json:"-"`
}

// ErrUserNotFound reports a lookup miss.
var ErrUserNotFound = fmt.Errorf("user not found")

// UserByUsername fetches a user for login.
func (s *Store) UserByUsername(username string) (*User, error) {
	u := &User{}
	var email, display sql.NullString
	err := s.db.QueryRow(`
		SELECT id, username, password, email, display_name
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &display)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %q: %w", username, err)
	}
	u.Email = email.String
	u.DisplayName = display.String
	return u, nil
}

// UserByID fetches a user by primary key.
func (s *Store) UserByID(id int64) (*User, error) {
	u := &User{}
	var email, display sql.NullString
	err := s.db.QueryRow(`
		SELECT id, username, password, email, display_name
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &display)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %d: %w", id, err)
	}
	u.Email = email.String
	u.DisplayName = display.String
	return u, nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UpdateUserProfile updates display name and email.
func (s *Store) UpdateUserProfile(id int64, displayName, email string) error {
	if _, err := s.db.Exec(
		"UPDATE users SET display_name = ?, email = ? WHERE id = ?",
		displayName, email, id,
	); err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	return nil
}

// UpdateUserPassword replaces the stored bcrypt hash.
func (s *Store) UpdateUserPassword(id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.Exec("UPDATE users SET password = ? WHERE id = ?", string(hash), id); err != nil {
		return fmt.Errorf("update password for user %d: %w", id, err)
	}
	return nil
}
