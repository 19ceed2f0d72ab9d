package main

import (
	"fmt"
	"net/http"
	"os"

	tenalychat "github.com/karopeter/tenaly-chat-go"
	"github.com/spf13/cobra"
)

var (
	notifyAddr   string
	notifySecret string
)

func init() {
	rootCmd.AddCommand(notifyServeCmd)
	notifyServeCmd.Flags().StringVar(&notifyAddr, "addr", ":8787", "listen address")
	notifyServeCmd.Flags().StringVar(&notifySecret, "secret", "", "webhook signing secret (or TENALY_WEBHOOK_SECRET)")
}

var notifyServeCmd = &cobra.Command{
	Use:   "notify-serve",
	Short: "Run a new-message notification webhook receiver",
	Long:  "Listen for signed new-message notification webhooks from the Tenaly backend and print them.\nUseful for storefront integrations and local debugging.",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := notifySecret
		if secret == "" {
			secret = os.Getenv("TENALY_WEBHOOK_SECRET")
		}

		wh, err := tenalychat.NewNotificationWebhook(secret, func(event *tenalychat.NotificationEvent) error {
			who := event.Sender.DisplayName
			if who == "" {
				who = event.Sender.ID
			}
			line := fmt.Sprintf("[%s] %s: %s", event.Conversation.ID, who, event.Message.Text)
			if ad := event.Conversation.AdContext; ad != nil && ad.Title != "" {
				line += fmt.Sprintf(" (re: %s)", ad.Title)
			}
			fmt.Println(line)
			return nil
		})
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/webhook", wh.HTTPHandler())

		fmt.Printf("Listening for notifications on %s/webhook\n", notifyAddr)
		return http.ListenAndServe(notifyAddr, mux)
	},
}
