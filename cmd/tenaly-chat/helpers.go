package main

import (
	"fmt"
	"os"

	tenalychat "github.com/karopeter/tenaly-chat-go"
)

// getClient creates a chat API client authenticated with the stored session.
func getClient() (*tenalychat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'tenaly-chat init <token>' first.")
		os.Exit(1)
	}

	opts := []tenalychat.ClientOption{tenalychat.WithLogger(cliLogger())}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, tenalychat.WithBaseURL(cfg.Default.BaseURL))
	}
	return tenalychat.NewClient(cfg.Auth.Token, opts...), cfg
}

// maskKey shortens a credential for display.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
