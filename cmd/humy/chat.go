package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
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
	chatDirect bool

	// chat history
	chatHistoryCursor string
	chatHistoryPages  int
	chatHistoryJSON   bool

	// chat send
	chatSendWait time.Duration
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatTailCmd)
	chatCmd.AddCommand(chatSendCmd)

	chatCmd.PersistentFlags().BoolVar(&chatDirect, "direct", false, "Treat the id as a direct conversation instead of a room")

	chatHistoryCmd.Flags().StringVar(&chatHistoryCursor, "cursor", "", "Start from this history cursor")
	chatHistoryCmd.Flags().IntVar(&chatHistoryPages, "pages", 1, "Number of pages to walk backwards")
	chatHistoryCmd.Flags().BoolVar(&chatHistoryJSON, "json", false, "Output raw JSON")

	chatSendCmd.Flags().DurationVar(&chatSendWait, "wait", 10*time.Second, "How long to wait for the socket and the server echo")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Room and direct conversation commands",
}

// ============================================================================
// chat history
// ============================================================================

var chatHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print conversation history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getClient()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		conv := conversationFor(args[0], chatDirect)
		source := env.client.History(conv.Kind)
		id := env.identity()

		var all []humy.Message
		cursor := chatHistoryCursor
		for i := 0; i < max(1, chatHistoryPages); i++ {
			page, err := source.FetchPage(ctx, conv.ID, cursor)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			all = append(page.Messages, all...)
			cursor = page.Cursor
			if !page.HasMore() {
				break
			}
		}

		tl := humy.NewTimeline(id)
		tl.Reset(conv.ID, all)
		messages := tl.Messages()

		if chatHistoryJSON {
			data, err := json.MarshalIndent(map[string]any{
				"messages": messages,
				"cursor":   cursor,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range messages {
			printMessage(m)
		}
		if cursor != "" {
			fmt.Printf("\nOlder history: --cursor %s\n", cursor)
		}
		return nil
	},
}

// ============================================================================
// chat tail
// ============================================================================

var chatTailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Follow a conversation live until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getClient()
		defer env.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := env.newSession()
		defer session.Close()

		room, err := session.OpenRoom(ctx, conversationFor(args[0], chatDirect))
		if err != nil {
			return fmt.Errorf("cannot open conversation: %w", err)
		}

		// Listeners run on socket and timer goroutines.
		var mu sync.Mutex
		printed := make(map[string]bool)
		flush := func() {
			for _, m := range room.Messages() {
				if m.Pending || printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				printMessage(m)
			}
		}
		mu.Lock()
		flush()
		mu.Unlock()

		done := make(chan error, 1)
		typing := false
		room.Subscribe(func(ev humy.RoomEvent) {
			mu.Lock()
			defer mu.Unlock()
			switch ev.Kind {
			case humy.EventMessages:
				flush()
			case humy.EventPresence:
				if ev.Presence.Typing != typing {
					typing = ev.Presence.Typing
					if typing {
						fmt.Fprintln(os.Stderr, "(someone is typing)")
					}
				}
			case humy.EventState:
				env.log.Info().Str("state", string(ev.State)).Msg("[chat] socket state")
				if ev.State == humy.StateClosedTerminal {
					select {
					case done <- room.Err():
					default:
					}
				}
			}
		})

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
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getClient()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), chatSendWait+30*time.Second)
		defer cancel()

		session := env.newSession()
		defer session.Close()

		room, err := session.OpenRoom(ctx, conversationFor(args[0], chatDirect))
		if err != nil {
			return fmt.Errorf("cannot open conversation: %w", err)
		}

		changed := make(chan struct{}, 1)
		room.Subscribe(func(humy.RoomEvent) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})

		deadline := time.After(chatSendWait)
		for room.State() != humy.StateOpen {
			if room.State() == humy.StateClosedTerminal {
				return fmt.Errorf("socket closed: %w", room.Err())
			}
			select {
			case <-changed:
			case <-deadline:
				return fmt.Errorf("socket did not open within %s", chatSendWait)
			}
		}

		sent, err := room.Send(strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		for {
			if m, ok := confirmedEcho(room.Messages(), sent.ID); ok {
				fmt.Printf("Sent (id: %s)\n", m.ID)
				return nil
			}
			select {
			case <-changed:
			case <-deadline:
				fmt.Fprintln(os.Stderr, "Sent, but the server has not echoed it yet.")
				return nil
			}
		}
	},
}

// confirmedEcho reports whether the optimistic entry tempID has been replaced
// and returns the newest own message in that case.
func confirmedEcho(messages []humy.Message, tempID string) (humy.Message, bool) {
	var own humy.Message
	for _, m := range messages {
		if m.ID == tempID {
			return humy.Message{}, false
		}
		if m.IsOwn {
			own = m
		}
	}
	return own, own.ID != ""
}

func printMessage(m humy.Message) {
	line := m.Content
	if m.Attachment != nil {
		line = strings.TrimSpace(fmt.Sprintf("%s [%s: %s]", line, m.Attachment.Kind, m.Attachment.URL))
	}
	marker := ""
	if m.IsOwn {
		marker = "*"
	}
	fmt.Printf("%-14s %s%s: %s\n", humanize.Time(m.CreatedAt), marker, m.DisplayName, line)
}
