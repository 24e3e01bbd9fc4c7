// Package config loads application settings with precedence:
// environment variables > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// ConfigDirName is the directory under $HOME holding config and state
	ConfigDirName = ".foldersync"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "FOLDERSYNC_"
)

// Config holds application configuration
type Config struct {
	// StateDir is where the database and logs live
	StateDir string `json:"stateDir"`

	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `json:"logLevel"`

	// LogFile, when set, mirrors log output to a JSON-lines file
	LogFile string `json:"logFile"`

	// ConcurrentTransfers is the global transfer limit across all rules
	ConcurrentTransfers int `json:"concurrentTransfers"`

	// DebounceMillis is the quiet window after a filesystem event before a
	// sync is triggered
	DebounceMillis int `json:"debounceMillis"`

	// ColorOutput enables color in console logging
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel:            "info",
		ConcurrentTransfers: 3,
		DebounceMillis:      500,
		ColorOutput:         true,
	}
}

// Load builds the configuration: defaults, then the config file, then
// environment variables (a .env file is honored when present).
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path, empty for the default
func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if path == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, ConfigFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENT_TRANSFERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConcurrentTransfers = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DEBOUNCE_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DebounceMillis = n
		}
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ColorOutput = b
		}
	}
}

// Validate checks configuration values
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.ConcurrentTransfers <= 0 {
		return fmt.Errorf("concurrentTransfers must be positive, got %d", c.ConcurrentTransfers)
	}
	if c.DebounceMillis < 0 {
		return fmt.Errorf("debounceMillis must not be negative, got %d", c.DebounceMillis)
	}
	return nil
}

// DatabasePath is the location of the sqlite state database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "state.db")
}

// Debounce is the watcher quiet window as a duration
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// Save writes the configuration to the state dir
func (c *Config) Save() error {
	if err := os.MkdirAll(c.StateDir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.StateDir, ConfigFileName), data, 0600)
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ConfigDirName), nil
}
