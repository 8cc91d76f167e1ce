package main

import (
	"encoding/json"
	"errors"
	"fmt"

	humy "github.com/humy-chat/humy/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <access-token>",
	Short: "Store an access token",
	Long:  "Store an access token in the session store and record the user it belongs to.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := setupLogging(cfg)

		id, err := humy.IdentityFromToken(token)
		if err != nil {
			return fmt.Errorf("token is not usable: %w", err)
		}

		store, release, err := openStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer release()

		value, err := json.Marshal(map[string]string{"access": token})
		if err != nil {
			return err
		}
		if err := store.Set(tokenStorageKey, string(value)); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}

		// The token lives in the session store; config keeps only who we are.
		cfg.Auth.Token = ""
		cfg.Auth.UserID = id.UserID
		cfg.Auth.Username = id.DisplayName
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		logger.Debug().Str("user_id", id.UserID).Msg("token stored")
		fmt.Printf("Logged in as %s (user %s)\n", id.Name(), id.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(cfg)

		store, release, err := openStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer release()

		for _, key := range humy.StorageTokenKeys {
			if err := store.Delete(key); err != nil && !errors.Is(err, humy.ErrKeyNotFound) {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
