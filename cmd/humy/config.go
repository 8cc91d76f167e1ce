package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	humy "github.com/humy-chat/humy/sdk/golang"
	"github.com/spf13/cobra"
)

var configShowRaw bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)

	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the config file as stored")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Humy configuration",
	Long:  "View or modify the Humy CLI configuration stored in ~/.humy/config.toml.",
}

// configEntry is one effective setting. Default marks values not taken
// from the file.
type configEntry struct {
	Key     string
	Value   string
	Default bool
}

// configEntries resolves every known key, filling unset ones with what the
// client will actually use.
func configEntries(cfg *Config) []configEntry {
	var out []configEntry
	add := func(key, value, fallback string) {
		if value != "" {
			out = append(out, configEntry{Key: key, Value: value})
			return
		}
		out = append(out, configEntry{Key: key, Value: fallback, Default: true})
	}

	add("default.base_url", cfg.Default.BaseURL, humy.DefaultBaseURL)
	add("default.ws_url", cfg.Default.WSURL, "(derived from base_url)")
	add("default.log_level", cfg.Default.LogLevel, "warn")

	token := ""
	if cfg.Auth.Token != "" {
		token = maskKey(cfg.Auth.Token)
	}
	add("auth.token", token, "(session store)")
	add("auth.user_id", cfg.Auth.UserID, "(from token)")
	add("auth.username", cfg.Auth.Username, "(from token)")

	add("realtime.base_delay", cfg.Realtime.BaseDelay, humy.DefaultReconnectBaseDelay.String())
	add("realtime.max_delay", cfg.Realtime.MaxDelay, humy.DefaultReconnectMaxDelay.String())
	add("realtime.heartbeat", cfg.Realtime.Heartbeat, humy.DefaultHeartbeatInterval.String())
	attempts := ""
	if cfg.Realtime.MaxAttempts > 0 {
		attempts = strconv.Itoa(cfg.Realtime.MaxAttempts)
	}
	add("realtime.max_attempts", attempts, "unlimited")

	add("storage.backend", cfg.Storage.Backend, "file")
	path, err := storagePath(cfg)
	if err != nil {
		path = "(unavailable)"
	}
	add("storage.path", cfg.Storage.Path, path)
	return out
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowRaw {
			path, err := configPath()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'humy login <token>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		section := ""
		for _, e := range configEntries(cfg) {
			sec, field, _ := strings.Cut(e.Key, ".")
			if sec != section {
				if section != "" {
					fmt.Println()
				}
				fmt.Printf("[%s]\n", sec)
				section = sec
			}
			suffix := ""
			if e.Default {
				suffix = "  # default"
			}
			fmt.Printf("  %-13s %s%s\n", field, e.Value, suffix)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: humy config set realtime.max_delay 10s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(args[0], args[1])
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(args[0], "")
	},
}

func updateConfig(key, value string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	for _, e := range configEntries(cfg) {
		if e.Key == key {
			fmt.Printf("%s = %s\n", key, e.Value)
		}
	}
	return nil
}
