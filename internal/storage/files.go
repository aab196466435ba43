package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	databaseFile = "cardinal.db"
	pluginsDir   = "plugins"
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// PluginDir returns the data directory for a plugin, creating it if needed.
func PluginDir(dataDir, name string) (string, error) {
	if !safeName.MatchString(name) {
		return "", fmt.Errorf("invalid plugin name %q", name)
	}
	dir := filepath.Join(dataDir, pluginsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plugin data dir: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the location of the SQLite database in dataDir.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, databaseFile)
}
