package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL: %s\n", cfg.Default.BaseURL)
		} else {
			fmt.Println("  Base URL: (default)")
		}

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:    %s\n", maskKey(cfg.Auth.Token))
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
			fmt.Printf("  Device:   %s\n", cfg.Auth.DeviceID)
		} else {
			fmt.Println("  Token:    (not set, run 'tenaly-chat init <session-token>')")
		}
		return nil
	},
}
