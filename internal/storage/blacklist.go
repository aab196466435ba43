package storage

import (
	"fmt"
)

// Blacklist returns the channels plugin is disabled in.
func (s *Store) Blacklist(plugin string) ([]string, error) {
	var channels []string
	if err := s.db.Select(&channels,
		`SELECT channel FROM plugin_blacklist WHERE plugin = ? ORDER BY channel`, plugin,
	); err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}
	return channels, nil
}

// AddBlacklist disables plugin in channels. Existing entries are kept.
func (s *Store) AddBlacklist(plugin string, channels ...string) error {
	return s.eachChannel(`INSERT OR IGNORE INTO plugin_blacklist (plugin, channel) VALUES (?, ?)`, plugin, channels)
}

// RemoveBlacklist re-enables plugin in channels.
func (s *Store) RemoveBlacklist(plugin string, channels ...string) error {
	return s.eachChannel(`DELETE FROM plugin_blacklist WHERE plugin = ? AND channel = ?`, plugin, channels)
}

func (s *Store) eachChannel(query, plugin string, channels []string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range channels {
		if _, err := tx.Exec(query, plugin, ch); err != nil {
			return fmt.Errorf("failed to update blacklist: %w", err)
		}
	}
	return tx.Commit()
}
