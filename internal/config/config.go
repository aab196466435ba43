package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds all bot configuration
type Config struct {
	Server           string        `koanf:"server"`
	Port             int           `koanf:"port"`
	TLS              bool          `koanf:"tls"`
	Nick             string        `koanf:"nick"`
	Username         string        `koanf:"username"`
	Realname         string        `koanf:"realname"`
	ServerPassword   string        `koanf:"server_password"`
	NickServPassword string        `koanf:"nickserv_password"`
	Channels         []string      `koanf:"channels"`
	Plugins          []string      `koanf:"plugins"`
	PluginDir        string        `koanf:"plugin_dir"`
	DataDir          string        `koanf:"data_dir"`
	Owners           []string      `koanf:"owners"`
	MinReconnectWait time.Duration `koanf:"min_reconnect_wait"`
	MaxReconnectWait time.Duration `koanf:"max_reconnect_wait"`
	WhoTimeout       time.Duration `koanf:"who_timeout"`
	PluginTimeout    time.Duration `koanf:"plugin_timeout"`
	LogLevel         string        `koanf:"log_level"`
	LogFormat        string        `koanf:"log_format"`
	MetricsAddr      string        `koanf:"metrics_addr"`
}

// Flags that are not configuration keys.
var ignoredFlags = map[string]bool{
	"config":  true,
	"version": true,
	"pidfile": true,
	"help":    true,
}

// Load reads the YAML file at path, if it exists, and overlays the flags
// the user set. Flag names map to keys with dashes turned into
// underscores.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if ignoredFlags[f.Name] {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to read flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 6667
	}
	if cfg.Username == "" {
		cfg.Username = cfg.Nick
	}
	if cfg.Realname == "" {
		cfg.Realname = cfg.Nick
	}
	if cfg.PluginDir == "" {
		cfg.PluginDir = "./plugins"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.MinReconnectWait == 0 {
		cfg.MinReconnectWait = 10 * time.Second
	}
	if cfg.MaxReconnectWait == 0 {
		cfg.MaxReconnectWait = 300 * time.Second
	}
	if cfg.WhoTimeout == 0 {
		cfg.WhoTimeout = 30 * time.Second
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = 5 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	if cfg.Server == "" {
		return nil, errors.New("no server configured")
	}
	if cfg.Nick == "" {
		return nil, errors.New("no nick configured")
	}
	if cfg.MaxReconnectWait < cfg.MinReconnectWait {
		return nil, fmt.Errorf("max_reconnect_wait %s is shorter than min_reconnect_wait %s",
			cfg.MaxReconnectWait, cfg.MinReconnectWait)
	}

	return &cfg, nil
}

// Address returns host:port for the server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}
