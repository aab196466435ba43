// Package storage keeps the bot's own state in SQLite: the admin audit log
// and plugin blacklists.
package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the bot database.
type Store struct {
	db      *sqlx.DB
	dataDir string
}

// Open opens or creates the database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", DatabasePath(dataDir)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Store{db: db, dataDir: dataDir}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PluginDir returns the data directory for a plugin, creating it if needed.
func (s *Store) PluginDir(name string) (string, error) {
	return PluginDir(s.dataDir, name)
}

const createAuditLogTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	hostmask   TEXT NOT NULL,
	command    TEXT NOT NULL,
	allowed    INTEGER NOT NULL DEFAULT 0
)`

const createBlacklistTable = `
CREATE TABLE IF NOT EXISTS plugin_blacklist (
	plugin  TEXT NOT NULL,
	channel TEXT NOT NULL,
	PRIMARY KEY (plugin, channel)
)`

// Migrate creates the tables.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		createAuditLogTable,
		createBlacklistTable,
	}
	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
