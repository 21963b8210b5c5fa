package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Config holds all aeromail configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Mailbox   MailboxConfig   `toml:"mailbox"`
	Identity  IdentityConfig  `toml:"identity"`
	Simulator SimulatorConfig `toml:"simulator"`
	Log       LogConfig       `toml:"log"`
	Trace     TraceConfig     `toml:"trace"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"`
	// Path is the database file. Empty means a file under DataDir named for
	// the driver.
	Path string `toml:"path"`
}

// MailboxConfig bounds thread listing.
type MailboxConfig struct {
	ScanLimit    int `toml:"scan_limit"`
	DefaultLimit int `toml:"default_limit"`
	MaxLimit     int `toml:"max_limit"`
}

// IdentityConfig is the mailbox owner, used as the sender of outgoing mail.
type IdentityConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// SimulatorConfig is the sender of simulated inbound mail.
type SimulatorConfig struct {
	Name    string `toml:"name"`
	Email   string `toml:"email"`
	Subject string `toml:"subject"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TraceConfig controls span export. Enabled spans are written as JSON to
// stderr.
type TraceConfig struct {
	Enabled bool `toml:"enabled"`
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Mailbox: MailboxConfig{
			ScanLimit:    200,
			DefaultLimit: 20,
			MaxLimit:     100,
		},
		Identity: IdentityConfig{
			Name:  "Current User",
			Email: "user@aeromail.dev",
		},
		Simulator: SimulatorConfig{
			Name:    "System Simulator",
			Email:   "sim@aeromail.dev",
			Subject: "New Message",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

// Load reads config from path. If path is empty, returns defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the mailbox cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverBolt:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	m := c.Mailbox
	if m.ScanLimit <= 0 || m.DefaultLimit <= 0 || m.MaxLimit <= 0 {
		return fmt.Errorf("mailbox limits must be positive")
	}
	if m.DefaultLimit > m.MaxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", m.DefaultLimit, m.MaxLimit)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// StorePath returns the configured database path, or the default file for
// the driver under DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	name := "aeromail.db"
	if c.Store.Driver == DriverBolt {
		name = "aeromail.bolt"
	}
	return filepath.Join(DataDir(), name)
}

// ConfigDir returns the aeromail config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "aeromail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "aeromail")
}

// DataDir returns the aeromail data directory path.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "aeromail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "aeromail")
}
