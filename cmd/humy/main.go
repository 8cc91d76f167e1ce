package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.humy/config.toml.
type Config struct {
	Default  ConfigDefault  `toml:"default"`
	Auth     ConfigAuth     `toml:"auth"`
	Realtime ConfigRealtime `toml:"realtime"`
	Storage  ConfigStorage  `toml:"storage"`
}

// ConfigDefault holds endpoint and logging settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	WSURL    string `toml:"ws_url"`
	LogLevel string `toml:"log_level"`
}

// ConfigAuth holds the logged-in user.
type ConfigAuth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
}

// ConfigRealtime tunes socket reconnection. Durations use Go syntax ("1s").
type ConfigRealtime struct {
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	Heartbeat   string `toml:"heartbeat"`
	MaxAttempts int    `toml:"max_attempts"`
}

// ConfigStorage selects where session material is persisted.
type ConfigStorage struct {
	Backend string `toml:"backend"` // file | pebble
	Path    string `toml:"path"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.humy, creating it if needed.
func configDir() (string, error) {
	if dir := os.Getenv("HUMY_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("cannot create config directory: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".humy")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
// An empty value clears the field.
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "ws_url":
			cfg.Default.WSURL = value
		case "log_level":
			if _, err := zerolog.ParseLevel(value); value != "" && err != nil {
				return fmt.Errorf("invalid log level %q", value)
			}
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "realtime":
		switch field {
		case "base_delay", "max_delay", "heartbeat":
			if value != "" {
				if _, err := time.ParseDuration(value); err != nil {
					return fmt.Errorf("invalid duration %q: %w", value, err)
				}
			}
			switch field {
			case "base_delay":
				cfg.Realtime.BaseDelay = value
			case "max_delay":
				cfg.Realtime.MaxDelay = value
			default:
				cfg.Realtime.Heartbeat = value
			}
		case "max_attempts":
			n := 0
			if value != "" {
				v, err := strconv.Atoi(value)
				if err != nil || v < 0 {
					return fmt.Errorf("max_attempts must be a non-negative integer")
				}
				n = v
			}
			cfg.Realtime.MaxAttempts = n
		default:
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
	case "storage":
		switch field {
		case "backend":
			if value != "" && value != "file" && value != "pebble" {
				return fmt.Errorf("storage backend must be file or pebble")
			}
			cfg.Storage.Backend = value
		case "path":
			cfg.Storage.Path = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, realtime, storage)", section)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

var flagVerbose bool

// setupLogging routes zerolog to stderr at the configured level.
func setupLogging(cfg *Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg != nil && cfg.Default.LogLevel != "" {
		if l, err := zerolog.ParseLevel(cfg.Default.LogLevel); err == nil {
			level = l
		}
	}
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "humy",
	Short: "Humy chat CLI",
	Long:  "Command-line client for Humy chat.\nRead and send room messages, follow live conversations and manage notifications.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log socket and request details to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
