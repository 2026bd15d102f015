package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSettings loads the stored settings, falling back to DefaultSettings for
// anything never saved.
func (db *DB) GetSettings() (Settings, error) {
	s := DefaultSettings()

	var enabled int
	err := db.db.QueryRow("SELECT enabled, min_stay_ms FROM settings WHERE id = 1").Scan(&enabled, &s.MinStayMs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Settings{}, fmt.Errorf("failed to get settings: %w", err)
	default:
		s.Enabled = enabled != 0
	}

	if s.DisabledHosts, err = db.listStrings("SELECT host FROM disabled_hosts ORDER BY host"); err != nil {
		return Settings{}, fmt.Errorf("failed to get disabled hosts: %w", err)
	}
	if s.DisabledURLPatterns, err = db.listStrings("SELECT pattern FROM disabled_url_patterns ORDER BY pattern"); err != nil {
		return Settings{}, fmt.Errorf("failed to get disabled url patterns: %w", err)
	}

	return s.Normalize(), nil
}

// SaveSettings replaces the stored settings in one transaction and returns
// the normalized value that was written. Emits a SettingsChangedEvent.
func (db *DB) SaveSettings(s Settings) (Settings, error) {
	s = s.Normalize()

	tx, err := db.db.Begin()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO settings (id, enabled, min_stay_ms) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET enabled = excluded.enabled, min_stay_ms = excluded.min_stay_ms
	`, boolToInt(s.Enabled), s.MinStayMs); err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM disabled_hosts"); err != nil {
		return Settings{}, fmt.Errorf("failed to clear disabled hosts: %w", err)
	}
	for _, host := range s.DisabledHosts {
		if _, err := tx.Exec("INSERT INTO disabled_hosts (host) VALUES (?)", host); err != nil {
			return Settings{}, fmt.Errorf("failed to save disabled host %q: %w", host, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM disabled_url_patterns"); err != nil {
		return Settings{}, fmt.Errorf("failed to clear disabled url patterns: %w", err)
	}
	for _, pattern := range s.DisabledURLPatterns {
		if _, err := tx.Exec("INSERT INTO disabled_url_patterns (pattern) VALUES (?)", pattern); err != nil {
			return Settings{}, fmt.Errorf("failed to save disabled url pattern %q: %w", pattern, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Settings{}, fmt.Errorf("failed to commit settings: %w", err)
	}

	db.emit(SettingsChangedEvent{Settings: s})
	return s, nil
}

func (db *DB) listStrings(query string) ([]string, error) {
	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
