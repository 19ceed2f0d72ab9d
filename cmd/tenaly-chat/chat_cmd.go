package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tenalychat "github.com/karopeter/tenaly-chat-go"
	"github.com/spf13/cobra"
)

var (
	sendFile     string
	sendFileMime string

	chatSeller string
	chatAd     string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendFile, "file", "", "send a file attachment (storage path)")
	sendCmd.Flags().StringVar(&sendFileMime, "mime", "", "attachment MIME type (guessed from the name when empty)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSeller, "seller", "", "open a conversation with this seller instead of an id")
	chatCmd.Flags().StringVar(&chatAd, "ad", "", "listing id anchoring a new seller conversation")
}

func newSession(client *tenalychat.Client, cfg *Config) (*tenalychat.ChatSession, error) {
	return tenalychat.NewChatSession(client, cfg.Auth.Token)
}

func printMessage(m tenalychat.Message, self string) {
	who := m.From
	if m.From == self {
		who = "me"
	}
	stamp := m.CreatedAt.Local().Format("15:04:05")
	body := m.Text
	if m.File != nil {
		body = fmt.Sprintf("[file] %s (%s, %d bytes)", m.File.Name, m.File.MimeType, m.File.Size)
	}
	suffix := ""
	switch m.State {
	case tenalychat.MessagePending:
		suffix = " …"
	case tenalychat.MessageFailed:
		suffix = " ✗ failed"
	}
	fmt.Printf("%s %-12s %s%s\n", stamp, who+":", body, suffix)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message in a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		conversationID := args[0]
		text := strings.Join(args[1:], " ")

		if text == "" && sendFile == "" {
			return fmt.Errorf("nothing to send: pass text or --file")
		}

		session, err := newSession(client, cfg)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := session.OpenConversation(ctx, conversationID); err != nil {
			return err
		}

		var msg tenalychat.Message
		if sendFile != "" {
			info, statErr := os.Stat(sendFile)
			att := tenalychat.Attachment{
				Name:     sendFile,
				Path:     sendFile,
				MimeType: sendFileMime,
			}
			if statErr == nil {
				att.Size = info.Size()
			}
			msg, err = session.SendFile(ctx, conversationID, att)
		} else {
			msg, err = session.SendText(ctx, conversationID, text)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Sent (%s)\n", msg.CorrelationID)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Chat live in a conversation",
	Long:  "Join a conversation room and stream messages and typing presence to the terminal.\nLines typed on stdin are sent as messages; Ctrl-C leaves.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		session, err := newSession(client, cfg)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		var conversationID string
		switch {
		case len(args) == 1:
			conversationID = args[0]
		case chatSeller != "":
			conv, err := session.MessageSeller(ctx, chatSeller, chatAd)
			if err != nil {
				return err
			}
			conversationID = conv.ID
			fmt.Printf("Conversation %s with %s\n", conv.ID, chatSeller)
		default:
			return fmt.Errorf("pass a conversation id or --seller")
		}

		if err := session.OpenConversation(ctx, conversationID); err != nil {
			return err
		}
		defer session.CloseConversation(context.Background(), conversationID)

		self := session.UserID()
		for _, m := range session.Timelines.Entries(conversationID) {
			printMessage(m, self)
		}

		router := session.Events()
		subs := []*tenalychat.Subscription{
			router.OnMessageReceived(func(m tenalychat.Message) {
				if m.ConversationID == conversationID && m.From != self {
					printMessage(m, self)
				}
			}),
			router.OnTypingStart(func(p tenalychat.TypingPayload) {
				if p.ConversationID == conversationID {
					fmt.Printf("-- %s is typing…\n", p.UserID)
				}
			}),
			router.OnReconnecting(func(attempt int, delay time.Duration) {
				fmt.Printf("-- connection lost, retrying in %s (attempt %d)\n", delay, attempt)
			}),
			router.OnConnected(func() {
				fmt.Println("-- connected")
			}),
		}
		defer func() {
			for _, sub := range subs {
				sub.Cancel()
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-sigCh:
				fmt.Println("\nLeaving conversation.")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				msg, err := session.SendText(ctx, conversationID, line)
				if err != nil {
					fmt.Printf("-- send failed: %v (message kept as failed, resend manually)\n", err)
					continue
				}
				printMessage(msg, self)
			}
		}
	},
}
