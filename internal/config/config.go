package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultBaseURL is where a locally run ReadPDF API server listens.
const DefaultBaseURL = "http://localhost:8000"

// Config represents runtime configuration for the client.
type Config struct {
	Remote   RemoteConfig `json:"remote"`
	Cache    CacheConfig  `json:"cache"`
	StateDir string       `json:"state_dir"`
}

// RemoteConfig points the client at the ReadPDF API server.
type RemoteConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// CacheConfig selects the guest store backend. This is a tagged union: the
// Backend field determines which other fields apply.
type CacheConfig struct {
	Backend string `json:"backend"` // memory, sqlite3, mysql or redis

	// sqlite3/mysql data source
	DSN string `json:"dsn,omitempty"`

	// redis connection
	Addr     string `json:"addr,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`

	// TTLHours overrides the 24h dataset lifetime when positive.
	TTLHours int `json:"ttl_hours,omitempty"`
}

// TTL converts the configured override to a duration; zero keeps the store
// default.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 0
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{BaseURL: DefaultBaseURL},
		Cache:  CacheConfig{Backend: "sqlite3"},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// When no path is given and the default file is absent, the built-in defaults
// apply; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = DefaultBaseURL
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "sqlite3"
	}
	switch cfg.Cache.Backend {
	case "sqlite", "sqlite3":
		// A relative sqlite path is anchored at the config file's directory.
		if cfg.Cache.DSN != "" && cfg.Cache.DSN != ":memory:" && !filepath.IsAbs(cfg.Cache.DSN) {
			cfg.Cache.DSN = filepath.Join(filepath.Dir(absPath), cfg.Cache.DSN)
		}
	}

	return cfg, nil
}

// ResolveStateDir returns the directory holding the token file and the
// default cache database, creating it when absent.
func (c *Config) ResolveStateDir() (string, error) {
	dir := c.StateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "readpdf")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}
