package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	humy "github.com/humy-chat/humy/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the access token has expired, and fetch the live unread count.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := setupLogging(cfg)

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, humy.DefaultBaseURL))
		fmt.Printf("  Socket URL:  %s\n", valueOrDefault(cfg.Default.WSURL, "(derived from base URL)"))
		fmt.Printf("  Storage:     %s\n", valueOrDefault(cfg.Storage.Backend, "file"))

		store, release, err := openStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		token := humy.ChainTokens{
			humy.StaticToken(cfg.Auth.Token),
			&humy.StorageToken{Store: store},
		}.Token()
		release()

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.UserID != "" {
			fmt.Printf("  Username:    %s\n", valueOrDefault(cfg.Auth.Username, humy.DefaultNickname))
			fmt.Printf("  User ID:     %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Username:    (not logged in)")
		}
		if token == "" {
			fmt.Println("  Token:       none")
			return nil
		}
		fmt.Printf("  Token:       %s (%s)\n", maskKey(token), tokenExpiry(token))

		env := getClient()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		list, err := env.client.ListUnread(ctx, 1, 1)
		fmt.Println()
		if err != nil {
			logger.Debug().Err(err).Msg("unread count request failed")
			fmt.Printf("Live status: unavailable (%v)\n", err)
			return nil
		}
		fmt.Printf("Unread notifications: %s\n", humanize.Comma(int64(list.Count)))
		return nil
	},
}

// tokenExpiry describes the exp claim without verifying the signature.
func tokenExpiry(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "unparseable"
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "no expiry"
	}
	if time.Now().Before(exp.Time) {
		return "valid, expires " + humanize.Time(exp.Time)
	}
	return "EXPIRED " + humanize.Time(exp.Time)
}
