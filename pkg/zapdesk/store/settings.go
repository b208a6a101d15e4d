package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// dateLayout is the calendar-day format used for the budget reset marker.
const dateLayout = "2006-01-02"

// Setting returns the raw string value for key. Missing keys return an error.
func (s *Store) Setting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("read setting %q: %w", key, err)
	}
	return value, nil
}

// SettingBool reads a boolean setting ("true"/"false"). Missing or malformed
// values read as false.
func (s *Store) SettingBool(key string) bool {
	v, err := s.Setting(key)
	return err == nil && v == "true"
}

// SettingInt reads an integer setting, returning def when missing or malformed.
func (s *Store) SettingInt(key string, def int) int {
	v, err := s.Setting(key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SettingFloat reads a float setting, returning def when missing or malformed.
func (s *Store) SettingFloat(key string, def float64) float64 {
	v, err := s.Setting(key)
	if err != nil {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// SetSetting writes a single setting, creating it if absent.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", key, err)
	}
	return nil
}

// SetSettings writes multiple settings in one transaction.
func (s *Store) SetSettings(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings update: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value,
		); err != nil {
			return fmt.Errorf("write setting %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// AllSettings returns every settings row as a flat map.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ReserveBudget performs the daily token budget gate in one serialized step:
// if last_token_reset is not today, the used counter is zeroed and the marker
// advanced first; then used+estimate is checked against token_limit_daily
// and, when admitted, the estimate is charged to the counter inside the same
// transaction. Concurrent callers therefore gate against each other's
// reservations, not the stale counter. The caller settles the difference
// between the estimate and the provider-reported total via AddTokenUsage.
func (s *Store) ReserveBudget(estimate int, now time.Time) (bool, error) {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()

	today := now.Format(dateLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin budget check: %w", err)
	}
	defer tx.Rollback()

	read := func(key string) (string, error) {
		var v string
		err := tx.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
		if err != nil {
			return "", fmt.Errorf("read setting %q: %w", key, err)
		}
		return v, nil
	}

	limitStr, err := read("token_limit_daily")
	if err != nil {
		return false, err
	}
	usedStr, err := read("tokens_used_today")
	if err != nil {
		return false, err
	}
	lastReset, err := read("last_token_reset")
	if err != nil {
		return false, err
	}

	limit, _ := strconv.Atoi(limitStr)
	used, _ := strconv.Atoi(usedStr)

	if lastReset != today {
		used = 0
		if _, err := tx.Exec(
			"UPDATE settings SET value = '0' WHERE key = 'tokens_used_today'"); err != nil {
			return false, fmt.Errorf("reset token counter: %w", err)
		}
		if _, err := tx.Exec(
			"UPDATE settings SET value = ? WHERE key = 'last_token_reset'", today); err != nil {
			return false, fmt.Errorf("advance reset marker: %w", err)
		}
	}

	admitted := used+estimate <= limit
	if admitted {
		if _, err := tx.Exec(
			"UPDATE settings SET value = ? WHERE key = 'tokens_used_today'",
			strconv.Itoa(used+estimate)); err != nil {
			return false, fmt.Errorf("reserve token estimate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit budget check: %w", err)
	}
	return admitted, nil
}

// AddTokenUsage adds a (possibly negative) token delta to today's counter
// with a single relative update. Used to settle a reservation against the
// provider-reported total.
func (s *Store) AddTokenUsage(tokens int) error {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()

	_, err := s.db.Exec(`
		UPDATE settings
		SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)
		WHERE key = 'tokens_used_today'
	`, tokens)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}
