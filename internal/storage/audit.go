package storage

import (
	"fmt"
	"time"
)

const maxEntries = 500

// AuditEntry is one admin command attempt.
type AuditEntry struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Hostmask  string    `db:"hostmask"`
	Command   string    `db:"command"`
	Allowed   bool      `db:"allowed"`
}

// AddAudit records an admin command attempt, keeping the newest 500.
func (s *Store) AddAudit(hostmask, command string, allowed bool) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO audit_log (created_at, hostmask, command, allowed) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), hostmask, command, allowed,
	); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)`,
		maxEntries,
	); err != nil {
		return fmt.Errorf("failed to trim audit log: %w", err)
	}
	return tx.Commit()
}

// AuditLog returns up to limit entries, newest first.
func (s *Store) AuditLog(limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > maxEntries {
		limit = maxEntries
	}
	var entries []AuditEntry
	if err := s.db.Select(&entries,
		`SELECT id, created_at, hostmask, command, allowed FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}
