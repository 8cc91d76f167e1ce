package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	humy "github.com/humy-chat/humy/sdk/golang"
	"github.com/rs/zerolog"
)

// tokenStorageKey is where login persists the access token.
const tokenStorageKey = "authTokens"

// storagePath returns the configured store location or the backend's
// default under the config directory.
func storagePath(cfg *Config) (string, error) {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	if cfg.Storage.Backend == "pebble" {
		return filepath.Join(dir, "session.db"), nil
	}
	return filepath.Join(dir, "session.toml"), nil
}

// openStorage opens the configured session store. The returned func
// releases it.
func openStorage(cfg *Config) (humy.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "", "file", "pebble":
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	path, err := storagePath(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend == "pebble" {
		store, err := humy.OpenPebbleStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return humy.NewFileStorage(path), func() {}, nil
}

// realtimeConfig converts the [realtime] section. Unset or invalid values
// fall back to library defaults.
func realtimeConfig(cfg *Config, logger zerolog.Logger) humy.RealtimeConfig {
	parse := func(field, v string) time.Duration {
		if v == "" {
			return 0
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Warn().Str("field", field).Str("value", v).Msg("ignoring invalid duration")
			return 0
		}
		return d
	}
	return humy.RealtimeConfig{
		ReconnectBaseDelay:   parse("base_delay", cfg.Realtime.BaseDelay),
		ReconnectMaxDelay:    parse("max_delay", cfg.Realtime.MaxDelay),
		HeartbeatInterval:    parse("heartbeat", cfg.Realtime.Heartbeat),
		MaxReconnectAttempts: cfg.Realtime.MaxAttempts,
	}
}

// cliEnv bundles what most commands need.
type cliEnv struct {
	cfg    *Config
	log    zerolog.Logger
	client *humy.Client
	close  func()
}

// getClient loads config, opens storage and builds an authenticated client.
// It exits the process when no token is available.
func getClient() *cliEnv {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogging(cfg)

	store, release, err := openStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}

	tokens := humy.ChainTokens{
		humy.StaticToken(cfg.Auth.Token),
		&humy.StorageToken{Store: store},
	}
	if tokens.Token() == "" {
		release()
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'humy login <token>' first.")
		os.Exit(1)
	}

	opts := []humy.ClientOption{
		humy.WithLogger(logger),
		humy.WithCache(humy.NewMemoryCache(0)),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, humy.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.WSURL != "" {
		opts = append(opts, humy.WithWebSocketURL(cfg.Default.WSURL))
	}

	return &cliEnv{
		cfg:    cfg,
		log:    logger,
		client: humy.NewClient(tokens, opts...),
		close:  release,
	}
}

// identity prefers the user recorded at login and falls back to the token.
func (e *cliEnv) identity() humy.Identity {
	if e.cfg.Auth.UserID != "" {
		return humy.Identity{UserID: e.cfg.Auth.UserID, DisplayName: e.cfg.Auth.Username}
	}
	id, err := humy.IdentityFromToken(e.client.Token())
	if err != nil {
		e.log.Debug().Err(err).Msg("no identity in token")
	}
	return id
}

// newSession builds a session using the configured realtime settings.
func (e *cliEnv) newSession() *humy.Session {
	id := e.identity()
	return humy.NewSession(e.client, humy.SessionOptions{
		Realtime: realtimeConfig(e.cfg, e.log),
		Identity: &id,
	})
}

// conversationFor picks the history endpoint for id.
func conversationFor(id string, direct bool) humy.Conversation {
	if direct {
		return humy.DirectConversation(id)
	}
	return humy.RoomConversation(id)
}

// maskKey shows the first 8 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 16 {
		return key[:min(4, len(key))] + "..."
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// valueOrDefault returns v if non-empty, otherwise the fallback.
func valueOrDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
