package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configJSON = "config.json"
	configYAML = "config.yaml"
)

// loadConfig reads the optional config document next to a plugin module.
// Exactly one of config.json and config.yaml may exist.
func loadConfig(name, dir string) (map[string]any, error) {
	jsonPath := filepath.Join(dir, configJSON)
	yamlPath := filepath.Join(dir, configYAML)

	hasJSON, err := fileExists(jsonPath)
	if err != nil {
		return nil, err
	}
	hasYAML, err := fileExists(yamlPath)
	if err != nil {
		return nil, err
	}

	var (
		path      string
		unmarshal func([]byte, any) error
	)
	switch {
	case hasJSON && hasYAML:
		return nil, errAmbiguousConfig(name)
	case hasJSON:
		path, unmarshal = jsonPath, json.Unmarshal
	case hasYAML:
		path, unmarshal = yamlPath, yaml.Unmarshal
	default:
		return nil, errConfigNotFound(name)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin config: %w", err)
	}

	var cfg map[string]any
	if err := unmarshal(data, &cfg); err != nil {
		return nil, ErrPlugin(name, "invalid config %s: %v", filepath.Base(path), err)
	}
	if cfg == nil {
		cfg = make(map[string]any)
	}
	return cfg, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}
