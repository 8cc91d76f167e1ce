package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	humy "github.com/humy-chat/humy/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// notifications list
	notifListPage     int
	notifListPageSize int
	notifListJSON     bool

	// notifications read
	notifReadAll bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notifWatchCmd)
	notificationsCmd.AddCommand(notifListCmd)
	notificationsCmd.AddCommand(notifReadCmd)

	notifListCmd.Flags().IntVar(&notifListPage, "page", 1, "Page number")
	notifListCmd.Flags().IntVar(&notifListPageSize, "page-size", 20, "Notifications per page")
	notifListCmd.Flags().BoolVar(&notifListJSON, "json", false, "Output raw JSON")

	notifReadCmd.Flags().BoolVar(&notifReadAll, "all", false, "Mark every notification read")
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Notification commands",
}

// ============================================================================
// notifications watch
// ============================================================================

var notifWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print notifications as they arrive until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getClient()
		defer env.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := env.newSession()
		defer session.Close()
		bus := session.Bus()

		var mu sync.Mutex
		seen := make(map[string]bool)
		unread := -1
		done := make(chan error, 1)

		bus.Subscribe(func(snap humy.NotificationSnapshot) {
			mu.Lock()
			defer mu.Unlock()

			// Items are newest first; print oldest unseen first.
			for i := len(snap.Items) - 1; i >= 0; i-- {
				it := snap.Items[i]
				if seen[it.ID] {
					continue
				}
				seen[it.ID] = true
				fmt.Printf("%-14s %s: %s\n", humanize.Time(it.CreatedAt), it.Title, it.Text)
			}
			if snap.Unread != unread {
				unread = snap.Unread
				fmt.Fprintf(os.Stderr, "unread: %s\n", humanize.Comma(int64(unread)))
			}
			if snap.State == humy.StateClosedTerminal {
				select {
				case done <- bus.Err():
				default:
				}
			}
		})
		session.Start(ctx)

		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if errors.Is(err, humy.ErrAuthRequired) {
				return fmt.Errorf("session expired, run 'humy login' again")
			}
			return err
		}
	},
}

// ============================================================================
// notifications list
// ============================================================================

var notifListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getClient()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		list, err := env.client.ListUnread(ctx, notifListPage, notifListPageSize)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notifListJSON {
			data, err := json.MarshalIndent(list, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(list.Results) == 0 {
			fmt.Println("No unread notifications.")
			return nil
		}
		fmt.Printf("%s unread\n\n", humanize.Comma(int64(list.Count)))
		for _, n := range list.Results {
			title, text := humy.NotificationText(n.Type, n.Payload)
			fmt.Printf("#%-6s %-14s %s: %s\n", n.ID, humanize.Time(n.CreatedAt), title, text)
		}
		if list.Next != "" {
			fmt.Printf("\nMore: --page %d\n", notifListPage+1)
		}
		return nil
	},
}

// ============================================================================
// notifications read
// ============================================================================

var notifReadCmd = &cobra.Command{
	Use:     "read [id...]",
	Aliases: []string{"mark-read"},
	Short:   "Mark notifications read",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !notifReadAll && len(args) == 0 {
			return fmt.Errorf("pass notification ids or --all")
		}

		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", a)
			}
			ids = append(ids, id)
		}

		env := getClient()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var (
			result *humy.MarkReadResult
			err    error
		)
		if notifReadAll {
			result, err = env.client.MarkAllRead(ctx)
		} else {
			result, err = env.client.MarkRead(ctx, ids)
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Marked %s read, %s unread left\n",
			humanize.Comma(int64(result.Updated)), humanize.Comma(int64(result.UnreadCount)))
		return nil
	},
}
