package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	contactsJSON bool

	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.Flags().BoolVar(&contactsJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of messages")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output raw JSON")
}

var contactsCmd = &cobra.Command{
	Use:     "contacts",
	Aliases: []string{"conversations"},
	Short:   "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		contacts, err := client.Contacts.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if contactsJSON {
			data, _ := json.MarshalIndent(contacts, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(contacts) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, c := range contacts {
			name := c.DisplayName
			if name == "" {
				name = c.UserID
			}
			line := fmt.Sprintf("%-24s  %s", c.ConversationID, name)
			if c.AdContext != nil && c.AdContext.Title != "" {
				line += fmt.Sprintf("  [%s]", c.AdContext.Title)
			}
			if !c.LastMessageAt.IsZero() {
				line += "  " + c.LastMessageAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		conversationID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.Messages.History(ctx, conversationID, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if historyLimit > 0 && len(msgs) > historyLimit {
			msgs = msgs[len(msgs)-historyLimit:]
		}

		if historyJSON {
			data, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		for _, m := range msgs {
			printMessage(m, cfg.Auth.UserID)
		}
		return nil
	},
}
